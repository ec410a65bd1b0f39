package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"gauntlet-service/internal/domain"
	"gauntlet-service/internal/infra/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRunCreatesGroupsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := NewProvisioner(store, zaptest.NewLogger(t))

	groups, err := p.Run(ctx, 25, "")
	require.NoError(t, err)
	require.Len(t, groups, 25)
	assert.Equal(t, "Group 1", groups[0].Name)
	assert.Equal(t, "Group 25", groups[24].Name)

	codes := map[string]bool{}
	for _, g := range groups {
		assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{6}$`), g.Code)
		codes[g.Code] = true
	}
	assert.Len(t, codes, 25)

	again, err := p.Run(ctx, 25, "")
	require.NoError(t, err)
	assert.Equal(t, groups, again)
}

func TestRunRetriesCodeCollisions(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := NewProvisioner(store, zaptest.NewLogger(t))
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	p.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	groups, err := p.Run(ctx, 2, "finals")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "BBBBBB", groups[1].Code)
	assert.Equal(t, "finals", groups[1].QuestionSet)
}

func TestExportWritesCodesAndQR(t *testing.T) {
	dir := t.TempDir()
	groups := []domain.Group{{ID: 1, Name: "Group 1", Code: "AB12CD"}}

	require.NoError(t, Export(dir, "https://trivia.example", groups))

	raw, err := os.ReadFile(filepath.Join(dir, CodesFile))
	require.NoError(t, err)
	var entries []CodeEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	assert.Equal(t, []CodeEntry{{GroupName: "Group 1", Code: "AB12CD"}}, entries)

	png, err := os.ReadFile(filepath.Join(dir, "qr", "group-1.png"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestQRContent(t *testing.T) {
	assert.Equal(t, "AB12CD", QRContent("", "AB12CD"))
	assert.Equal(t, "https://x.test/?code=AB12CD", QRContent("https://x.test/", "AB12CD"))
}
