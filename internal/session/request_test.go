package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patchd/internal/faults"
)

func TestRequest_Validate(t *testing.T) {
	t.Run("accepts valid request", func(t *testing.T) {
		req := validRequest()
		require.NoError(t, req.Validate())
	})

	t.Run("rejects empty prompt", func(t *testing.T) {
		req := validRequest()
		req.Prompt = "   "
		err := req.Validate()
		require.Error(t, err)
		assert.Equal(t, faults.CodeValidation, faults.CodeOf(err))
	})

	t.Run("rejects short prompt", func(t *testing.T) {
		req := validRequest()
		req.Prompt = "fix it"
		assert.Error(t, req.Validate())
	})

	t.Run("rejects malformed repository", func(t *testing.T) {
		for _, repo := range []string{"", "justaname", "a/b/c", "owner/na me"} {
			req := validRequest()
			req.Repo = repo
			assert.Error(t, req.Validate(), "repo %q should be rejected", repo)
		}
	})

	t.Run("defaults client identity", func(t *testing.T) {
		req := validRequest()
		req.Client = ""
		require.NoError(t, req.Validate())
		assert.Equal(t, "anonymous", req.Client)
	})
}

func TestNormalizeRepo(t *testing.T) {
	cases := map[string]string{
		"acme/repo-a":                        "acme/repo-a",
		"https://github.com/acme/repo-a":     "acme/repo-a",
		"https://github.com/acme/repo-a.git": "acme/repo-a",
		"git@github.com:acme/repo-a.git":     "acme/repo-a",
		"  acme/repo-a ":                     "acme/repo-a",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRepo(in), "input %q", in)
	}
}
