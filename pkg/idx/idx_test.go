package idx_test

import (
	"sort"
	"testing"
	"time"

	"github.com/anamul94/DietGuard/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := idx.New()
	require.False(t, id.IsZero())

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "   ", "not-a-ulid", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		_, err := idx.Parse(s)
		require.ErrorIs(t, err, idx.ErrInvalid, s)
	}
}

func TestMonotonicWithinMillisecond(t *testing.T) {
	at := time.UnixMilli(1700000000000).UTC()
	ids := make([]string, 0, 100)
	for range 100 {
		ids = append(ids, idx.NewAt(at).String())
	}
	require.True(t, sort.StringsAreSorted(ids))
}

func TestTimeExtraction(t *testing.T) {
	tm := time.Unix(1700000000, 0).UTC()
	require.True(t, idx.NewAt(tm).Time().Equal(tm))
	require.True(t, idx.ID("garbage").Time().IsZero())
}
