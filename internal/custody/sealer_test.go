package custody

import (
	"testing"

	"github.com/smallbiznis/paywatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewSealerFromSecret("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := s.Seal("42", []byte("secret-key-material"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret-key-material")

	opened, err := s.Open("42", sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret-key-material"), opened)
}

func TestOpenRejectsOtherInvoice(t *testing.T) {
	s, err := NewSealerFromSecret("k")
	require.NoError(t, err)

	sealed, err := s.Seal("1", []byte("x"))
	require.NoError(t, err)

	_, err = s.Open("2", sealed)
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestOpenRejectsOtherKey(t *testing.T) {
	a, _ := NewSealerFromSecret("a")
	b, _ := NewSealerFromSecret("b")

	sealed, err := a.Seal("1", []byte("x"))
	require.NoError(t, err)

	_, err = b.Open("1", sealed)
	assert.ErrorIs(t, err, ErrInvalidSecret)

	_, err = a.Open("1", []byte("{not json"))
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestMissingKey(t *testing.T) {
	s, err := NewSealerFromSecret("   ")
	require.NoError(t, err)

	_, err = s.Seal("1", []byte("x"))
	assert.ErrorIs(t, err, ErrEncryptionKeyMissing)
	_, err = s.Open("1", []byte("{}"))
	assert.ErrorIs(t, err, ErrEncryptionKeyMissing)
}

func TestProvideSealerRequiresKeyInProduction(t *testing.T) {
	_, err := ProvideSealer(config.Config{Environment: "production"}, zap.NewNop())
	require.ErrorIs(t, err, ErrEncryptionKeyMissing)

	sealer, err := ProvideSealer(config.Config{Environment: "development"}, zap.NewNop())
	require.NoError(t, err)
	_, err = sealer.Seal("1", []byte("secret"))
	assert.ErrorIs(t, err, ErrEncryptionKeyMissing)

	sealer, err = ProvideSealer(config.Config{Environment: "production", CustodySecretKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	sealed, err := sealer.Seal("1", []byte("secret"))
	require.NoError(t, err)
	assert.NotEmpty(t, sealed)
}
