package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"

	"github.com/marlowe/recall-agent/internal/httpkit"
)

// CardDAVSource looks up profiles in a remote CardDAV address book,
// matching the vCard UID property against the client ID.
//
// Construction performs no network I/O. The address book path is
// discovered lazily on the first lookup and cached for the life of the
// source; discovery failures surface as lookup errors, which callers
// treat as a degraded (profile-less) turn.
type CardDAVSource struct {
	client *carddav.Client
	logger *slog.Logger

	mu       sync.Mutex
	bookPath string
}

// NewCardDAVSource creates a CardDAV profile source for the given
// endpoint with HTTP basic auth.
func NewCardDAVSource(endpoint, username, password string, logger *slog.Logger) (*CardDAVSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := httpkit.NewClient()
	client, err := carddav.NewClient(
		webdav.HTTPClientWithBasicAuth(httpClient, username, password),
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("carddav client: %w", err)
	}

	return &CardDAVSource{
		client: client,
		logger: logger.With("profile_source", "carddav"),
	}, nil
}

// GetProfile queries the address book for a card whose UID equals
// clientID. No matching card means the client is unknown (nil, nil).
func (s *CardDAVSource) GetProfile(ctx context.Context, clientID string) (*Profile, error) {
	book, err := s.addressBook(ctx)
	if err != nil {
		return nil, err
	}

	query := &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{
			Props: []string{
				vcard.FieldFormattedName,
				vcard.FieldName,
				vcard.FieldEmail,
				vcard.FieldBirthday,
				vcard.FieldGender,
				vcard.FieldAddress,
				vcard.FieldTelephone,
				vcard.FieldUID,
			},
		},
		PropFilters: []carddav.PropFilter{{
			Name: vcard.FieldUID,
			TextMatches: []carddav.TextMatch{{
				Text:      clientID,
				MatchType: carddav.MatchEquals,
			}},
		}},
	}

	objs, err := s.client.QueryAddressBook(ctx, book, query)
	if err != nil {
		return nil, fmt.Errorf("query address book: %w", err)
	}
	if len(objs) == 0 {
		return nil, nil
	}
	if len(objs) > 1 {
		s.logger.Warn("multiple cards match client id, using first",
			"client_id", clientID, "matches", len(objs))
	}

	p := cardToProfile(objs[0].Card)
	p.ID = clientID
	return p, nil
}

// addressBook discovers and caches the first address book of the
// current user principal.
func (s *CardDAVSource) addressBook(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bookPath != "" {
		return s.bookPath, nil
	}

	principal, err := s.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := s.client.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find home set: %w", err)
	}

	books, err := s.client.FindAddressBooks(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("find address books: %w", err)
	}
	if len(books) == 0 {
		return "", fmt.Errorf("no address books at %s", homeSet)
	}

	s.bookPath = books[0].Path
	s.logger.Debug("address book discovered", "path", s.bookPath)
	return s.bookPath, nil
}
