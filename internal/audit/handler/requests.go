package handler

import (
	"net/http"
	"strconv"
	"time"

	"auditchain/internal/audit/models"
	dErrors "auditchain/pkg/domain-errors"
	strutil "auditchain/pkg/platform/strings"
)

type retentionRequest struct {
	RetentionDays int  `json:"retentionDays"`
	LegalHold     bool `json:"legalHold"`
}

func (r *retentionRequest) Validate() error {
	if r.RetentionDays <= 0 {
		return dErrors.New(dErrors.CodeValidation, "retentionDays must be positive")
	}
	return nil
}

type verifyRequest struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (r *verifyRequest) Validate() error {
	if r.End != 0 && r.End < r.Start {
		return dErrors.New(dErrors.CodeValidation, "end must not be before start")
	}
	return nil
}

// parseFilter reads the query surface's parameters. Lists are comma
// separated; times are RFC 3339.
func parseFilter(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	var f models.Filter

	for _, c := range strutil.SplitList(q.Get("category")) {
		f.Categories = append(f.Categories, models.Category(c))
	}
	for _, name := range strutil.SplitList(q.Get("severity")) {
		sev, err := models.ParseSeverity(name)
		if err != nil {
			return f, dErrors.New(dErrors.CodeBadRequest, err.Error())
		}
		f.Severities = append(f.Severities, sev)
	}
	f.Actors = strutil.SplitList(q.Get("actor"))

	var err error
	if f.StartTime, err = parseTime(q.Get("start"), "start"); err != nil {
		return f, err
	}
	if f.EndTime, err = parseTime(q.Get("end"), "end"); err != nil {
		return f, err
	}
	if f.Limit, err = parseInt(q.Get("limit"), "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = parseInt(q.Get("offset"), "offset"); err != nil {
		return f, err
	}
	if v := q.Get("verify"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, dErrors.New(dErrors.CodeBadRequest, "verify must be a boolean")
		}
		f.VerifyIntegrity = b
	}
	return f, nil
}

func parseTime(v, field string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, field+" must be an RFC 3339 timestamp")
	}
	return t, nil
}

func parseInt(v, field string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, field+" must be an integer")
	}
	return n, nil
}
