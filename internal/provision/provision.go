// Package provision creates the fixed set of competition groups and exports
// their access codes for distribution to proctors.
package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gauntlet-service/internal/domain"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const (
	// CodesFile is the name of the exported code list.
	CodesFile = "group_codes.json"
	qrSize    = 320
	attempts  = 5
)

// GroupStore is the slice of app.Store provisioning needs.
type GroupStore interface {
	CreateGroup(ctx context.Context, group domain.Group) (domain.Group, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)
}

// CodeEntry is one line of the exported code list.
type CodeEntry struct {
	GroupName string `json:"group_name"`
	Code      string `json:"code"`
}

// Provisioner creates groups named "Group 1".."Group N" with random codes.
type Provisioner struct {
	store   GroupStore
	log     *zap.Logger
	newCode func() (string, error)
}

func NewProvisioner(store GroupStore, log *zap.Logger) *Provisioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{store: store, log: log, newCode: NewCode}
}

// Run creates count groups unless groups already exist, in which case the
// existing ones are returned untouched.
func (p *Provisioner) Run(ctx context.Context, count int, questionSet string) ([]domain.Group, error) {
	existing, err := p.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		p.log.Info("groups already provisioned", zap.Int("groups", len(existing)))
		return existing, nil
	}

	groups := make([]domain.Group, 0, count)
	for i := 1; i <= count; i++ {
		group, err := p.create(ctx, fmt.Sprintf("Group %d", i), questionSet)
		if err != nil {
			return groups, err
		}
		groups = append(groups, group)
	}
	p.log.Info("groups provisioned", zap.Int("groups", len(groups)))
	return groups, nil
}

func (p *Provisioner) create(ctx context.Context, name, questionSet string) (domain.Group, error) {
	for i := 0; i < attempts; i++ {
		code, err := p.newCode()
		if err != nil {
			return domain.Group{}, err
		}
		group, err := p.store.CreateGroup(ctx, domain.Group{Name: name, Code: code, QuestionSet: questionSet})
		if errors.Is(err, domain.ErrDuplicateGroup) {
			p.log.Debug("code collision, regenerating", zap.String("group", name))
			continue
		}
		return group, err
	}
	return domain.Group{}, fmt.Errorf("create %s: no free code after %d attempts", name, attempts)
}

// NewCode returns six upper-case hex characters from crypto/rand.
func NewCode() (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// Entries maps groups to the exported code list.
func Entries(groups []domain.Group) []CodeEntry {
	out := make([]CodeEntry, 0, len(groups))
	for _, g := range groups {
		out = append(out, CodeEntry{GroupName: g.Name, Code: g.Code})
	}
	return out
}

// WriteJSON writes the code list as indented JSON.
func WriteJSON(w io.Writer, groups []domain.Group) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(Entries(groups))
}

// QRContent is what a group's QR code encodes: a login link when a base URL
// is known, the bare code otherwise.
func QRContent(baseURL, code string) string {
	if baseURL == "" {
		return code
	}
	return strings.TrimSuffix(baseURL, "/") + "/?code=" + url.QueryEscape(code)
}

// QRCode renders a PNG for a group.
func QRCode(baseURL string, group domain.Group) ([]byte, error) {
	return qrcode.Encode(QRContent(baseURL, group.Code), qrcode.Medium, qrSize)
}

// Export writes group_codes.json and one QR PNG per group into dir.
func Export(dir, baseURL string, groups []domain.Group) error {
	if err := os.MkdirAll(filepath.Join(dir, "qr"), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, CodesFile))
	if err != nil {
		return fmt.Errorf("create code list: %w", err)
	}
	if err := WriteJSON(f, groups); err != nil {
		f.Close()
		return fmt.Errorf("write code list: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	for _, g := range groups {
		name := strings.ReplaceAll(strings.ToLower(g.Name), " ", "-") + ".png"
		err := qrcode.WriteFile(QRContent(baseURL, g.Code), qrcode.Medium, qrSize, filepath.Join(dir, "qr", name))
		if err != nil {
			return fmt.Errorf("write qr for %s: %w", g.Name, err)
		}
	}
	return nil
}
