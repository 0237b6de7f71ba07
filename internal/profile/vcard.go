package profile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-vcard"
)

// DirSource reads profiles from a directory of vCard files, one
// <clientID>.vcf per client. Files are parsed on every lookup so edits
// take effect without a restart.
type DirSource struct {
	dir    string
	logger *slog.Logger
}

// NewDirSource creates a vCard directory source. The directory must
// exist; its contents may change at any time.
func NewDirSource(dir string, logger *slog.Logger) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("vcard dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vcard dir: %s is not a directory", dir)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{dir: dir, logger: logger}, nil
}

// GetProfile parses <dir>/<clientID>.vcf. A missing file means the
// client is unknown (nil, nil).
func (s *DirSource) GetProfile(ctx context.Context, clientID string) (*Profile, error) {
	// Client IDs come from request config; never let them escape the dir.
	if clientID != filepath.Base(clientID) || strings.HasPrefix(clientID, ".") {
		return nil, fmt.Errorf("invalid client id %q", clientID)
	}

	path := filepath.Join(s.dir, clientID+".vcf")
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open vcard: %w", err)
	}
	defer f.Close()

	card, err := vcard.NewDecoder(f).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode vcard %s: %w", path, err)
	}

	p := cardToProfile(card)
	p.ID = clientID
	return p, nil
}

// cardToProfile maps a decoded vCard onto a Profile. Absent fields stay
// zero so the prompt assembler can omit them.
func cardToProfile(card vcard.Card) *Profile {
	p := &Profile{}

	if name := card.Name(); name != nil {
		p.FirstName = name.GivenName
		p.LastName = name.FamilyName
	} else if fn := card.PreferredValue(vcard.FieldFormattedName); fn != "" {
		// Fall back to splitting FN when no structured N is present.
		first, last, _ := strings.Cut(fn, " ")
		p.FirstName = first
		p.LastName = last
	}

	p.Email = card.PreferredValue(vcard.FieldEmail)
	p.DateOfBirth = card.Value(vcard.FieldBirthday)
	p.Gender = card.Value(vcard.FieldGender)

	if addr := card.Address(); addr != nil {
		p.Address = &Address{
			Street:     addr.StreetAddress,
			City:       addr.Locality,
			Region:     addr.Region,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		}
	}

	for _, field := range card[vcard.FieldTelephone] {
		if field.Value == "" {
			continue
		}
		p.Phones = append(p.Phones, Phone{
			Type:   strings.ToLower(field.Params.Get(vcard.ParamType)),
			Number: field.Value,
		})
	}

	return p
}
