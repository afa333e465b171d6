package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cropscan/cropscan/internal/errors"
)

func TestExpandString(t *testing.T) {
	t.Setenv("CROPSCAN_TEST_TOKEN", "abc123")
	t.Setenv("CROPSCAN_TEST_USER", "admin")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", false},
		{"literal", "literal-value", "literal-value", false},
		{"variable", "${CROPSCAN_TEST_TOKEN}", "abc123", false},
		{"prefix and suffix", "Bearer ${CROPSCAN_TEST_TOKEN}", "Bearer abc123", false},
		{"two variables", "${CROPSCAN_TEST_USER}:${CROPSCAN_TEST_TOKEN}", "admin:abc123", false},
		{"fallback used", "${CROPSCAN_TEST_UNSET:-dev}", "dev", false},
		{"empty fallback", "${CROPSCAN_TEST_UNSET:-}", "", false},
		{"missing", "${CROPSCAN_TEST_UNSET}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
				assert.Contains(t, err.Error(), "CROPSCAN_TEST_UNSET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	got, err := ReadFile(write("token", "s3cret\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	got, err = ReadFile(write("spaced", "  keep spaces  \r\n"))
	require.NoError(t, err)
	assert.Equal(t, "  keep spaces  ", got)

	_, err = ReadFile(write("empty", "\n"))
	require.Error(t, err)

	_, err = ReadFile(dir)
	require.Error(t, err, "directories are rejected")

	_, err = ReadFile(filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	big := make([]byte, maxFileSize+1)
	for i := range big {
		big[i] = 'x'
	}
	_, err = ReadFile(write("big", string(big)))
	require.Error(t, err)
}

func TestResolvePrefersFile(t *testing.T) {
	t.Setenv("CROPSCAN_TEST_TOKEN", "from-env")

	p := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(p, []byte("from-file"), 0o400))

	got, err := Resolve(p, "${CROPSCAN_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	got, err = Resolve("", "${CROPSCAN_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	got, err = Resolve("", "pa$$word")
	require.NoError(t, err)
	assert.Equal(t, "pa$$word", got)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
