package statusdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb" // CouchDB driver

	"github.com/3leaps/flowstatus/pkg/evidence"
)

const backendCouch = "couchdb"

// Database and view names shared with the other status tooling.
const (
	DefaultDatabase         = "bioinfo_analysis"
	DefaultNanoporeDatabase = "nanopore_runs"

	ddocLatestData = "_design/latest_data"
	viewSampleID   = "sample_id"
	ddocFullDoc    = "_design/full_doc"
	viewPjRunToDoc = "pj_run_to_doc"
	viewRunIDToDoc = "run_id_to_doc"
	ddocInfo       = "_design/info"
	viewLIMS       = "lims"
)

// CouchConfig configures the CouchDB backend.
type CouchConfig struct {
	// URL is the server address, with or without scheme (https is assumed).
	URL      string
	Username string
	Password string

	// Database holds the status records.
	Database string

	// NanoporeDatabase holds nanopore run LIMS documents.
	NanoporeDatabase string

	// Timeout bounds each request. Zero means no extra bound.
	Timeout time.Duration
}

// Endpoint returns the server address with the password masked, for logs and
// error messages.
func (c CouchConfig) Endpoint() string {
	u, err := c.serverURL()
	if err != nil {
		return c.URL
	}
	if c.Username != "" {
		return fmt.Sprintf("%s://%s:*****@%s%s", u.Scheme, c.Username, u.Host, u.Path)
	}
	return u.String()
}

func (c CouchConfig) serverURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return nil, errors.New("status store url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return url.Parse(raw)
}

func (c CouchConfig) dsn() (string, error) {
	u, err := c.serverURL()
	if err != nil {
		return "", err
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String(), nil
}

// CouchStore keeps records in CouchDB and also serves nanopore LIMS lookups.
type CouchStore struct {
	cfg      CouchConfig
	client   *kivik.Client
	db       *kivik.DB
	nanopore *kivik.DB
}

var (
	_ Store               = (*CouchStore)(nil)
	_ evidence.LIMSSource = (*CouchStore)(nil)
)

// OpenCouch connects and verifies the server is reachable. A failure wraps
// ErrUnavailable and names the masked endpoint.
func OpenCouch(ctx context.Context, cfg CouchConfig) (*CouchStore, error) {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.NanoporeDatabase == "" {
		cfg.NanoporeDatabase = DefaultNanoporeDatabase
	}
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, &StoreError{Op: "open", Backend: backendCouch, Err: err}
	}
	client, err := kivik.New("couch", dsn)
	if err != nil {
		return nil, &StoreError{Op: "open", Backend: backendCouch, Key: cfg.Endpoint(), Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	s := &CouchStore{
		cfg:      cfg,
		client:   client,
		db:       client.DB(cfg.Database),
		nanopore: client.DB(cfg.NanoporeDatabase),
	}
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *CouchStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// Find looks up latest_data/sample_id by the string lane first and, for
// numeric lanes, by the integer lane older records were keyed with.
func (s *CouchStore) Find(ctx context.Context, k Key) (*Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	keys := [][]any{{k.Project, k.RunID, k.Lane, k.Sample}}
	if n, ok := Lane(k.Lane).Numeric(); ok {
		keys = append(keys, []any{k.Project, k.RunID, n, k.Sample})
	}
	for _, key := range keys {
		recs, err := s.query(ctx, ddocLatestData, viewSampleID, key)
		if err != nil {
			return nil, &StoreError{Op: "find", Backend: backendCouch, Key: k.String(), Err: err}
		}
		if len(recs) > 0 {
			return recs[0], nil
		}
	}
	return nil, &StoreError{Op: "find", Backend: backendCouch, Key: k.String(), Err: ErrNotFound}
}

func (s *CouchStore) Create(ctx context.Context, r *Record) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	r.Rev = ""
	id, rev, err := s.db.CreateDoc(ctx, r)
	if err != nil {
		return &StoreError{Op: "create", Backend: backendCouch, Key: r.Key().String(), Err: classify(err)}
	}
	r.ID, r.Rev = id, rev
	return nil
}

func (s *CouchStore) Update(ctx context.Context, r *Record) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rev, err := s.db.Put(ctx, r.ID, r)
	if err != nil {
		return &StoreError{Op: "update", Backend: backendCouch, Key: r.ID, Err: classify(err)}
	}
	r.Rev = rev
	return nil
}

func (s *CouchStore) ListByRun(ctx context.Context, runID, project string) ([]*Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		recs []*Record
		err  error
	)
	if project != "" {
		recs, err = s.query(ctx, ddocFullDoc, viewPjRunToDoc, []any{project, runID})
	} else {
		recs, err = s.query(ctx, ddocFullDoc, viewRunIDToDoc, []any{runID})
	}
	if err != nil {
		return nil, &StoreError{Op: "list", Backend: backendCouch, Key: runID, Err: err}
	}
	sortRecords(recs)
	return recs, nil
}

func (s *CouchStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err := s.client.Ping(ctx)
	if err == nil && !ok {
		err = errors.New("server did not respond")
	}
	if err != nil {
		return &StoreError{Op: "ping", Backend: backendCouch, Key: s.cfg.Endpoint(), Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	return nil
}

func (s *CouchStore) Close() error {
	return s.client.Close()
}

// Endpoint returns the masked server address.
func (s *CouchStore) Endpoint() string {
	return s.cfg.Endpoint()
}

// limsDoc is the part of a nanopore run LIMS document naming loaded samples.
type limsDoc struct {
	Loading []struct {
		SampleData []struct {
			SampleName string `json:"sample_name"`
		} `json:"sample_data"`
	} `json:"loading"`
}

// LoadedSamples implements evidence.LIMSSource using the latest loading
// entry of the run's info/lims row.
func (s *CouchStore) LoadedSamples(ctx context.Context, runName string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rs := s.nanopore.Query(ctx, ddocInfo, viewLIMS, kivik.Param("key", runName))
	defer func() { _ = rs.Close() }()

	if !rs.Next() {
		if err := rs.Err(); err != nil {
			return nil, classify(err)
		}
		return nil, fmt.Errorf("%w: %s", evidence.ErrLIMSNotFound, runName)
	}
	var doc limsDoc
	if err := rs.ScanValue(&doc); err != nil {
		return nil, fmt.Errorf("decode lims %s: %w", runName, err)
	}
	if len(doc.Loading) == 0 {
		return nil, nil
	}
	latest := doc.Loading[len(doc.Loading)-1]
	samples := make([]string, 0, len(latest.SampleData))
	for _, sd := range latest.SampleData {
		samples = append(samples, sd.SampleName)
	}
	return samples, nil
}

func (s *CouchStore) query(ctx context.Context, ddoc, view string, key any) ([]*Record, error) {
	rs := s.db.Query(ctx, ddoc, view,
		kivik.Param("key", key),
		kivik.Param("include_docs", true),
	)
	defer func() { _ = rs.Close() }()

	var out []*Record
	for rs.Next() {
		var r Record
		if err := rs.ScanDoc(&r); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, &r)
	}
	if err := rs.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func classify(err error) error {
	switch kivik.HTTPStatus(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
