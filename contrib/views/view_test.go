package views

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewBasics(t *testing.T) {
	members := []Identity{"A", "C", "B"}
	v := NewView("A", members...)

	// mutating the caller's slice must not leak into the view
	members[0] = "Z"

	require.Equal(t, Identity("A"), v.Coordinator())
	require.Equal(t, []Identity{"A", "C", "B"}, v.Members())
	require.Equal(t, 3, v.Size())
	require.True(t, v.Contains("B"))
	require.False(t, v.Contains("Z"))
	require.True(t, v.HasCoordinator())

	out := v.Members()
	out[0] = "Q"
	require.Equal(t, []Identity{"A", "C", "B"}, v.Members())

	require.Equal(t, "[A|A, C, B]", v.String())
}

func TestViewWithoutCoordinator(t *testing.T) {
	v := NewView("X", "A", "B")
	assert.False(t, v.HasCoordinator())
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	s := NewSnapshot()
	s.Put("A", NewView("A", "A", "B"))
	s.Put("B", NewView("B", "B"))

	c := s.Clone()
	c.Put("A", NewView("A", "A"))
	c.Delete("B")

	orig, _ := s.Get("A")
	require.Equal(t, 2, orig.Size())
	_, ok := s.Get("B")
	require.True(t, ok)

	cloned, _ := c.Get("A")
	require.Equal(t, 1, cloned.Size())
	require.Equal(t, 1, c.Len())
}

func TestSnapshotReporters(t *testing.T) {
	s := NewSnapshot()
	s.Put("C", NewView("C", "C"))
	s.Put("A", NewView("A", "A"))
	s.Put("B", NewView("B", "B"))

	require.Equal(t, []Identity{"A", "B", "C"}, s.Reporters())
	require.Equal(t, 3, s.Len())

	seen := map[Identity]bool{}
	s.ForEach(func(reporter Identity, view *View) {
		seen[reporter] = true
	})
	require.Len(t, seen, 3)

	require.Equal(t, "A: [A|A]\nB: [B|B]\nC: [C|C]\n", s.String())
}

func TestSnapshotValidate(t *testing.T) {
	testCases := []struct {
		name    string
		view    *View
		wantErr error
	}{
		{"Valid", NewView("A", "A", "B"), nil},
		{"NilView", nil, ErrNilView},
		{"Empty", NewView("A"), ErrEmptyView},
		{"MissingSelf", NewView("B", "B", "C"), ErrMissingSelf},
		{"Duplicate", NewView("A", "A", "B", "A"), ErrDuplicateMember},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSnapshot()
			s.Put("A", tc.view)

			err := s.Validate()
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			require.True(t, errors.Is(err, tc.wantErr), "unexpected error: %s", err)
			require.Contains(t, err.Error(), "reporter A")
		})
	}
}

func TestSnapshotValidateNil(t *testing.T) {
	var s *Snapshot
	require.ErrorIs(t, s.Validate(), ErrNilSnapshot)
	require.Equal(t, 0, s.Len())
	s.ForEach(func(Identity, *View) {
		t.Fatalf("nil snapshot has no reporters")
	})
}

func TestCheckReport(t *testing.T) {
	require.NoError(t, CheckReport("B", NewView("A", "A", "B")))
	require.ErrorIs(t, CheckReport("C", NewView("A", "A", "B")), ErrMissingSelf)
	require.ErrorIs(t, CheckReport("A", nil), ErrNilView)
}

func TestCodecRoundTrip(t *testing.T) {
	v := NewView("B", "A", "C", "B")

	data, err := MarshalView(v)
	require.NoError(t, err)

	out, err := UnmarshalView(data)
	require.NoError(t, err)
	require.Equal(t, v.Coordinator(), out.Coordinator())
	require.Equal(t, v.Members(), out.Members())
	require.True(t, out.Contains("C"))
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := UnmarshalView([]byte("not a view"))
	require.Error(t, err)
}

func TestDocumentConversion(t *testing.T) {
	s := NewSnapshot()
	s.Put("A", NewView("A", "A", "B"))
	s.Put("B", nil)

	doc := ToDocument(s)
	require.Len(t, doc.Views, 2)
	require.Equal(t, []Identity{"A", "B"}, doc.Views["A"].Members)
	require.Nil(t, doc.Views["B"])

	back := FromDocument(doc)
	require.Equal(t, 2, back.Len())
	v, ok := back.Get("B")
	require.True(t, ok)
	require.Nil(t, v)
	require.ErrorIs(t, back.Validate(), ErrNilView)
}
