package merger

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/couchbase/viewmerger/contrib/views"
	"github.com/stretchr/testify/require"
)

func genSnapshot(rng *rand.Rand) *views.Snapshot {
	const poolSize = 8
	pool := make([]views.Identity, poolSize)
	for i := range pool {
		pool[i] = views.Identity(fmt.Sprintf("n%d", i))
	}

	snap := views.NewSnapshot()
	numReporters := 1 + rng.Intn(poolSize-1)
	for _, ri := range rng.Perm(poolSize)[:numReporters] {
		reporter := pool[ri]

		members := []views.Identity{reporter}
		for _, id := range pool {
			if id != reporter && rng.Intn(2) == 0 {
				members = append(members, id)
			}
		}
		rng.Shuffle(len(members), func(i, j int) {
			members[i], members[j] = members[j], members[i]
		})

		coord := members[rng.Intn(len(members))]
		snap.Put(reporter, views.NewView(coord, members...))
	}

	return snap
}

func isSubsequence(sub, full []views.Identity) bool {
	i := 0
	for _, id := range full {
		if i < len(sub) && sub[i] == id {
			i++
		}
	}
	return i == len(sub)
}

func TestSanitizeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(20120418))

	for iter := 0; iter < 2000; iter++ {
		orig := genSnapshot(rng)
		out, err := SanitizeViews(orig)
		require.NoError(t, err)

		orig.ForEach(func(owner views.Identity, origView *views.View) {
			sanView, ok := out.Get(owner)
			require.True(t, ok)

			require.True(t, sanView.Contains(owner), "self dropped from %s\n%s", owner, orig)
			require.Equal(t, origView.Coordinator(), sanView.Coordinator())
			require.True(t, isSubsequence(sanView.Members(), origView.Members()),
				"order not preserved for %s\n%s", owner, orig)

			for _, member := range origView.Members() {
				memberView, reported := orig.Get(member)
				switch {
				case member == owner:
				case !reported:
					require.True(t, sanView.Contains(member),
						"%s dropped non-reporter %s\n%s", owner, member, orig)
				case sanView.Contains(member):
					require.True(t, memberView.Contains(owner),
						"%s kept uncorroborated %s\n%s", owner, member, orig)
				}
			}
		})

		require.True(t, IsConsistent(out), "output not consistent\n%s", orig)

		// A second pass over the output would find any claim that only held
		// up because of a view the first pass shrank.
		again, err := SanitizeViews(out)
		require.NoError(t, err)
		require.Equal(t, out.String(), again.String(), "second pass changed output\n%s", orig)
	}
}

func TestSanitizeNoopOnConsistentInput(t *testing.T) {
	rng := rand.New(rand.NewSource(1451))

	checked := 0
	for iter := 0; iter < 2000; iter++ {
		snap := genSnapshot(rng)
		if !IsConsistent(snap) {
			continue
		}
		checked++

		out, err := SanitizeViews(snap)
		require.NoError(t, err)
		require.Equal(t, snap.String(), out.String())
	}

	// single reporter snapshots are always consistent, so this cannot be 0
	require.NotZero(t, checked)
}
