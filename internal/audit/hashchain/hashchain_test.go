package hashchain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditchain/internal/audit/models"
)

func sampleEntry() models.Entry {
	return models.Entry{
		ID:        "0b7d4a7e-3b0c-4f39-9a51-2f6a6f1f6c11",
		Sequence:  7,
		Timestamp: time.Date(2026, 2, 3, 4, 5, 6, 789000, time.UTC),
		Category:  models.CategoryDataAccess,
		Event:     "record.read",
		Severity:  models.SeverityInfo,
		Actor:     models.Actor{Type: models.ActorUser, ID: "u-42", IP: "10.0.0.1", Roles: []string{"auditor", "admin"}},
		Resource:  models.Resource{Type: "patient", ID: "p-9"},
		Context:   models.Context{Environment: "prod", Service: "records", Version: "1.4.0"},
		Result:    models.Result{Status: models.ResultSuccess, DurationMS: 12},
		Metadata: models.Metadata{
			SchemaVersion: 1,
			Compliance:    []string{"hipaa"},
			RetentionDays: 30,
			Tags:          map[string]string{"zone": "eu", "app": "portal", "build": "b7"},
		},
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	b := Default()
	e := sampleEntry()

	first, err := b.ComputeHash(e)
	require.NoError(t, err)
	second, err := b.ComputeHash(e)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestComputeHashIgnoresChainFields(t *testing.T) {
	b := Default()
	e := sampleEntry()
	base, err := b.ComputeHash(e)
	require.NoError(t, err)

	e.ContentHash = "ff"
	e.PreviousHash = "ee"
	e.Signature = models.Signature{KeyID: "k1", Value: "sig"}
	withChain, err := b.ComputeHash(e)
	require.NoError(t, err)

	assert.Equal(t, base, withChain)
}

func TestComputeHashTimezoneInsensitive(t *testing.T) {
	b := Default()
	e := sampleEntry()
	utc, err := b.ComputeHash(e)
	require.NoError(t, err)

	e.Timestamp = e.Timestamp.In(time.FixedZone("EST", -5*3600))
	local, err := b.ComputeHash(e)
	require.NoError(t, err)
	assert.Equal(t, utc, local)
}

// Each mutation flips one hashed field; every one must change the digest.
func TestComputeHashMutationSampling(t *testing.T) {
	b := Default()
	base, err := b.ComputeHash(sampleEntry())
	require.NoError(t, err)

	mutations := []func(*models.Entry){
		func(e *models.Entry) { e.ID = e.ID[:len(e.ID)-1] + "2" },
		func(e *models.Entry) { e.Sequence++ },
		func(e *models.Entry) { e.Timestamp = e.Timestamp.Add(time.Microsecond) },
		func(e *models.Entry) { e.Category = models.CategorySecurity },
		func(e *models.Entry) { e.Event = "record.reaD" },
		func(e *models.Entry) { e.Severity = models.SeverityWarning },
		func(e *models.Entry) { e.Actor.ID = "u-43" },
		func(e *models.Entry) { e.Actor.Roles = []string{"admin", "auditor"} },
		func(e *models.Entry) { e.Resource.Path = "/p/9" },
		func(e *models.Entry) { e.Context.TraceID = "t" },
		func(e *models.Entry) { e.Result.Status = models.ResultFailure },
		func(e *models.Entry) { e.Result.DurationMS = 13 },
		func(e *models.Entry) { e.Metadata.RetentionDays = 31 },
		func(e *models.Entry) { e.Metadata.Encrypted = true },
		func(e *models.Entry) { e.Metadata.Tags["zone"] = "us" },
	}
	for i, mutate := range mutations {
		t.Run(fmt.Sprintf("mutation_%d", i), func(t *testing.T) {
			e := sampleEntry()
			mutate(&e)
			got, err := b.ComputeHash(e)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestCanonicalizeSortsKeys(t *testing.T) {
	b := Default()
	canonical, err := b.Canonicalize(sampleEntry())
	require.NoError(t, err)

	s := string(canonical)
	assert.Less(t, strings.Index(s, `"actor"`), strings.Index(s, `"category"`))
	assert.Less(t, strings.Index(s, `"app"`), strings.Index(s, `"build"`))
	assert.Less(t, strings.Index(s, `"build"`), strings.Index(s, `"zone"`))
	assert.NotContains(t, s, "contentHash")
	assert.NotContains(t, s, "previousHash")
	assert.NotContains(t, s, "signature")
}

func TestAlgorithms(t *testing.T) {
	digests := map[string]bool{}
	for _, alg := range []Algorithm{SHA256, SHA3_256, BLAKE2b256} {
		b, err := New(alg)
		require.NoError(t, err)
		d, err := b.ComputeHash(sampleEntry())
		require.NoError(t, err)
		assert.Len(t, d, 64, alg)
		digests[d] = true
	}
	assert.Len(t, digests, 3)

	_, err := New("md5")
	assert.Error(t, err)
}

func TestLinkAndVerifyChain(t *testing.T) {
	b := Default()
	var chain []models.Entry
	prev := ""
	for i := 1; i <= 5; i++ {
		e := sampleEntry()
		e.Sequence = uint64(i)
		sealed, err := b.Seal(e, prev)
		require.NoError(t, err)
		chain = append(chain, sealed)
		prev = sealed.ContentHash
	}

	assert.Equal(t, models.GenesisHash, chain[0].PreviousHash)
	for i := 1; i < len(chain); i++ {
		assert.Equal(t, chain[i-1].ContentHash, chain[i].PreviousHash)
	}

	idx, err := b.VerifyChain(chain, "")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)

	chain[2].Event = "tampered"
	idx, err = b.VerifyChain(chain, "")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}
