package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"auditchain/pkg/platform/middleware/admin"
)

const operatorKey = "alice-operator-key-0123456789abcdef"

type recorded struct {
	method   string
	path     string
	query    string
	token    string
	operator string
	body     map[string]any
}

type CLISuite struct {
	suite.Suite
	srv      *httptest.Server
	requests []recorded
	respond  func(w http.ResponseWriter, r *http.Request)
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

func (s *CLISuite) SetupTest() {
	s.requests = nil
	s.respond = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method:   r.Method,
			path:     r.URL.Path,
			query:    r.URL.RawQuery,
			token:    r.Header.Get("X-Admin-Token"),
			operator: operatorFrom(r),
		}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		s.requests = append(s.requests, rec)
		s.respond(w, r)
	}))
}

func operatorFrom(r *http.Request) string {
	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	operator, err := admin.OperatorKeys{"alice": []byte(operatorKey)}.Verify(bearer)
	if err != nil {
		return ""
	}
	return operator
}

func (s *CLISuite) TearDownTest() {
	s.srv.Close()
}

func (s *CLISuite) run(args ...string) (string, error) {
	root := NewRootCmd("test", "none")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--server", s.srv.URL, "--token", "s3cret", "--operator", "alice", "--operator-key", operatorKey}, args...))
	err := root.Execute()
	return out.String(), err
}

func (s *CLISuite) reply(status int, body string) {
	s.respond = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// =============================================================================
// Administrative commands
// =============================================================================

func (s *CLISuite) TestKeysRotate() {
	s.reply(http.StatusOK, `{"keyId":"k-2","createdAt":"2026-05-01T00:00:00Z"}`)

	out, err := s.run("keys", "rotate", "-o", "text")
	s.Require().NoError(err)
	s.Equal("new signing key k-2\n", out)

	s.Require().Len(s.requests, 1)
	req := s.requests[0]
	s.Equal(http.MethodPost, req.method)
	s.Equal("/v1/admin/keys/rotate", req.path)
	s.Equal("s3cret", req.token)
	s.Equal("alice", req.operator)
}

func (s *CLISuite) TestRetentionSet() {
	s.reply(http.StatusOK, `{"category":"data_access","retentionDays":90,"legalHold":true}`)

	_, err := s.run("retention", "set", "data_access", "--days", "90", "--legal-hold")
	s.Require().NoError(err)

	req := s.requests[0]
	s.Equal(http.MethodPut, req.method)
	s.Equal("/v1/admin/retention/data_access", req.path)
	s.EqualValues(90, req.body["retentionDays"])
	s.Equal(true, req.body["legalHold"])
}

func (s *CLISuite) TestVerify() {
	s.Run("valid range", func() {
		s.reply(http.StatusOK, `{"start":1,"end":10,"checked":10,"valid":true,"violations":[]}`)
		out, err := s.run("verify", "--start", "1", "--end", "10", "-o", "text")
		s.Require().NoError(err)
		s.Contains(out, "valid    true")
	})

	s.Run("violations fail the command", func() {
		s.reply(http.StatusOK, `{"start":1,"end":10,"checked":10,"valid":false,
			"violations":[{"sequence":5,"kind":"hash_mismatch","level":"critical","detail":"content hash differs"}]}`)
		out, err := s.run("verify", "-o", "text")
		s.Require().Error(err)
		s.Contains(out, "hash_mismatch")
	})
}

func (s *CLISuite) TestDeletions() {
	s.reply(http.StatusOK, `{"requests":[{"id":"d-1","category":"system","sequences":[2,3],"state":"pending_confirmation"}]}`)

	out, err := s.run("deletions", "list", "--state", "pending_confirmation", "-o", "text")
	s.Require().NoError(err)
	s.Contains(out, "d-1")
	s.Equal("state=pending_confirmation", s.requests[0].query)

	s.reply(http.StatusOK, `{"id":"d-1","state":"executed"}`)
	out, err = s.run("deletions", "confirm", "d-1", "-o", "text")
	s.Require().NoError(err)
	s.Equal("request d-1 is executed\n", out)
	s.Equal("/v1/admin/deletions/d-1/confirm", s.requests[1].path)
}

// =============================================================================
// Logging and query commands
// =============================================================================

func (s *CLISuite) TestLog() {
	s.reply(http.StatusCreated, `{"entryId":"e-1","sequence":4,"contentHash":"ab"}`)

	out, err := s.run("log", "--category", "security", "--event", "firewall.rule.changed",
		"--actor-id", "ops-bot", "--actor-type", "service", "--severity", "warning", "--tag", "ticket=SEC-12", "-o", "text")
	s.Require().NoError(err)
	s.Equal("sequence 4  entry e-1  hash ab\n", out)

	body := s.requests[0].body
	s.Equal("security", body["category"])
	s.Equal("warning", body["severity"])
	s.Equal(map[string]any{"type": "service", "id": "ops-bot"}, body["actor"])
	s.Equal(map[string]any{"ticket": "SEC-12"}, body["metadata"].(map[string]any)["tags"])
}

func (s *CLISuite) TestEntriesQuery() {
	s.reply(http.StatusOK, `{"entries":[],"totalCount":0,"hasMore":false}`)

	_, err := s.run("entries", "--category", "authentication", "--category", "security",
		"--limit", "5", "--verify")
	s.Require().NoError(err)
	s.Equal("category=authentication%2Csecurity&limit=5&verify=true", s.requests[0].query)

	_, err = s.run("entries", "--start", "yesterday")
	s.Error(err)
	s.Len(s.requests, 1)
}

func (s *CLISuite) TestAPIErrorsSurface() {
	s.reply(http.StatusUnauthorized, `{"error":"unauthorized","error_description":"admin token required"}`)

	_, err := s.run("sinks")
	s.Require().Error(err)
	var apiErr *APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(http.StatusUnauthorized, apiErr.Status)
	s.Equal("unauthorized", apiErr.Code)
}
