package knowledge

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/logging"
	"github.com/Iron-Ham/arbiter/internal/schema"
)

// File and directory names inside the state directory.
const (
	KnowledgeFile = "knowledge.json"
	ScopesFile    = "scope_definitions.json"
	RFCDir        = "rfcs"
	SessionDir    = "sessions"
	ScratchDir    = "scratch"
)

// DefaultLockWait bounds how long a store operation waits for the lock.
const DefaultLockWait = 10 * time.Second

//go:embed schemas/*.json
var schemaFS embed.FS

func mustSchema(name, file string) *schema.Schema {
	raw, err := schemaFS.ReadFile("schemas/" + file)
	if err != nil {
		panic(err)
	}
	return schema.MustCompile(name, raw)
}

var (
	knowledgeSchema = mustSchema(KnowledgeFile, "knowledge.schema.json")
	rfcSchema       = mustSchema("rfc", "rfc.schema.json")
	sessionSchema   = mustSchema("session", "session.schema.json")
	scopesSchema    = mustSchema(ScopesFile, "scopes.schema.json")
)

var (
	rfcFileRe     = regexp.MustCompile(`^RFC-(\d{3,})\.json$`)
	sessionFileRe = regexp.MustCompile(`^session-(\d{4,})\.json$`)
)

// Store reads and writes the knowledge document. Implementations validate
// on both paths and write atomically.
type Store interface {
	// Read returns the current snapshot, or an error matching ErrNotFound on
	// first run.
	Read(ctx context.Context) (*Snapshot, error)
	// Write validates and atomically persists s.
	Write(ctx context.Context, s *Snapshot) error
}

// VerifiedWriter is the single path through which a record may reach level 0.
type VerifiedWriter interface {
	WriteVerified(ctx context.Context, s *Snapshot, ev Evidence) error
}

// RFCStore persists RFC documents.
type RFCStore interface {
	NextRFCID(ctx context.Context) (string, error)
	WriteRFC(ctx context.Context, r *RFC) error
	ReadRFC(ctx context.Context, id string) (*RFC, error)
	// ListRFCs returns every readable, valid RFC ordered by id. Unreadable
	// or invalid files are skipped.
	ListRFCs(ctx context.Context) ([]*RFC, error)
}

// SessionLogStore persists session handoff logs.
type SessionLogStore interface {
	NextSessionID(ctx context.Context) (string, error)
	WriteSessionLog(ctx context.Context, l *SessionLog) error
	ListSessionLogs(ctx context.Context) ([]*SessionLog, error)
}

// FileStore is the file-backed implementation of Store, VerifiedWriter,
// RFCStore and SessionLogStore rooted at one state directory.
type FileStore struct {
	dir      string
	lockWait time.Duration
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBus sets the event bus that receives knowledge.written events.
func WithBus(b *event.Bus) Option {
	return func(s *FileStore) { s.bus = b }
}

// WithLockWait bounds lock acquisition.
func WithLockWait(d time.Duration) Option {
	return func(s *FileStore) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string, opts ...Option) *FileStore {
	s := &FileStore{
		dir:      dir,
		lockWait: DefaultLockWait,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the state directory.
func (s *FileStore) Dir() string { return s.dir }

// KnowledgePath returns the path of knowledge.json.
func (s *FileStore) KnowledgePath() string { return filepath.Join(s.dir, KnowledgeFile) }

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.NewStoreError("lock", s.dir, err)
	}
	fl := NewFileLock(s.dir)
	if err := fl.Lock(ctx, s.lockWait); err != nil {
		return errors.NewStoreError("lock", s.dir, err)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

// Read implements Store.
func (s *FileStore) Read(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := s.withLock(ctx, func() error {
		var err error
		snap, err = s.readLocked()
		return err
	})
	return snap, err
}

func (s *FileStore) readLocked() (*Snapshot, error) {
	path := s.KnowledgePath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewStoreError("read", path, errors.NewNotFoundError("knowledge document", path))
		}
		return nil, errors.NewStoreError("read", path, err)
	}
	if err := knowledgeSchema.Validate(data); err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.NewValidationError(KnowledgeFile, err.Error()).WithCause(err)
	}
	snap.normalize()
	return &snap, nil
}

// Write implements Store. It refuses writes that introduce a level-0
// record, lower a contested record, or re-decide a terminal proposal.
func (s *FileStore) Write(ctx context.Context, snap *Snapshot) error {
	return s.write(ctx, snap, nil)
}

// WriteVerified implements VerifiedWriter: like Write, but the record named
// by ev may transition to level 0 when ev records a passing run.
func (s *FileStore) WriteVerified(ctx context.Context, snap *Snapshot, ev Evidence) error {
	if !ev.valid() {
		return fmt.Errorf("%w: verification evidence for %q is not a recorded passing run", errors.ErrInvariantViolation, ev.RecordID)
	}
	return s.write(ctx, snap, map[string]bool{ev.RecordID: true})
}

func (s *FileStore) write(ctx context.Context, snap *Snapshot, verified map[string]bool) error {
	if snap == nil {
		return errors.NewValidationError(KnowledgeFile, "snapshot is nil")
	}
	next := snap.Clone()
	next.normalize()

	err := s.withLock(ctx, func() error {
		prev, err := s.readLocked()
		if err != nil && !errors.IsNotFound(err) {
			return err
		}
		if err := checkTransition(prev, next, verified); err != nil {
			return err
		}
		return writeDocument(s.KnowledgePath(), next, knowledgeSchema)
	})
	if err != nil {
		return err
	}

	s.logger.Debug("knowledge written", "state", len(next.State), "pending", next.PendingCount())
	s.bus.Publish(event.NewKnowledgeWritten(s.KnowledgePath(), len(next.State), next.PendingCount()))
	return nil
}

// Init writes an empty knowledge document with the given invariants unless
// one already exists. It reports whether a document was created.
func (s *FileStore) Init(ctx context.Context, inv Invariants) (bool, error) {
	created := false
	err := s.withLock(ctx, func() error {
		if _, err := os.Stat(s.KnowledgePath()); err == nil {
			return nil
		}
		snap := &Snapshot{Invariants: inv}
		snap.normalize()
		if err := writeDocument(s.KnowledgePath(), snap, knowledgeSchema); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// writeDocument validates v against sch and writes it atomically: data goes
// to a temp file first and is renamed into place.
func writeDocument(target string, v any, sch *schema.Schema) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.NewStoreError("write", target, err)
	}
	data = append(data, '\n')
	if err := sch.Validate(data); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return errors.NewStoreError("write", target, err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.NewStoreError("write", target, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errors.NewStoreError("write", target, err)
	}
	return nil
}

func readDocument(path string, sch *schema.Schema, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewStoreError("read", path, errors.NewNotFoundError(filepath.Base(path), path))
		}
		return errors.NewStoreError("read", path, err)
	}
	if err := sch.Validate(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewValidationError(filepath.Base(path), err.Error()).WithCause(err)
	}
	return nil
}

// nextSequence returns one past the highest number captured by re among the
// file names in dir.
func nextSequence(dir string, re *regexp.Regexp) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return 0, errors.NewStoreError("read", dir, err)
	}
	highest := 0
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// NextRFCID implements RFCStore.
func (s *FileStore) NextRFCID(ctx context.Context) (string, error) {
	var id string
	err := s.withLock(ctx, func() error {
		n, err := nextSequence(filepath.Join(s.dir, RFCDir), rfcFileRe)
		if err != nil {
			return err
		}
		id = fmt.Sprintf("RFC-%03d", n)
		return nil
	})
	return id, err
}

// WriteRFC implements RFCStore.
func (s *FileStore) WriteRFC(ctx context.Context, r *RFC) error {
	if r == nil {
		return errors.NewValidationError("rfc", "rfc is nil")
	}
	return s.withLock(ctx, func() error {
		return writeDocument(filepath.Join(s.dir, RFCDir, r.ID+".json"), r, rfcSchema)
	})
}

// ReadRFC implements RFCStore.
func (s *FileStore) ReadRFC(ctx context.Context, id string) (*RFC, error) {
	var r RFC
	err := s.withLock(ctx, func() error {
		return readDocument(filepath.Join(s.dir, RFCDir, id+".json"), rfcSchema, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRFCs implements RFCStore.
func (s *FileStore) ListRFCs(ctx context.Context) ([]*RFC, error) {
	var out []*RFC
	err := s.withLock(ctx, func() error {
		dir := filepath.Join(s.dir, RFCDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.NewStoreError("read", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			var r RFC
			if err := readDocument(filepath.Join(dir, e.Name()), rfcSchema, &r); err != nil {
				s.logger.Debug("skipping unreadable rfc", "file", e.Name(), "error", err.Error())
				continue
			}
			out = append(out, &r)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// NextSessionID implements SessionLogStore.
func (s *FileStore) NextSessionID(ctx context.Context) (string, error) {
	var id string
	err := s.withLock(ctx, func() error {
		n, err := nextSequence(filepath.Join(s.dir, SessionDir), sessionFileRe)
		if err != nil {
			return err
		}
		id = fmt.Sprintf("session-%04d", n)
		return nil
	})
	return id, err
}

// WriteSessionLog implements SessionLogStore. Handoff logs are immutable:
// writing an id that already exists fails.
func (s *FileStore) WriteSessionLog(ctx context.Context, l *SessionLog) error {
	if l == nil {
		return errors.NewValidationError("session", "session log is nil")
	}
	return s.withLock(ctx, func() error {
		target := filepath.Join(s.dir, SessionDir, l.ID+".json")
		if _, err := os.Stat(target); err == nil {
			return errors.NewStoreError("write", target, fmt.Errorf("%w: session log %s already exists", errors.ErrInvariantViolation, l.ID))
		}
		return writeDocument(target, l, sessionSchema)
	})
}

// ListSessionLogs implements SessionLogStore, oldest first.
func (s *FileStore) ListSessionLogs(ctx context.Context) ([]*SessionLog, error) {
	var out []*SessionLog
	err := s.withLock(ctx, func() error {
		dir := filepath.Join(s.dir, SessionDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return errors.NewStoreError("read", dir, err)
		}
		for _, e := range entries {
			if !sessionFileRe.MatchString(e.Name()) {
				continue
			}
			var l SessionLog
			if err := readDocument(filepath.Join(dir, e.Name()), sessionSchema, &l); err != nil {
				s.logger.Debug("skipping unreadable session log", "file", e.Name(), "error", err.Error())
				continue
			}
			out = append(out, &l)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// ReadScopeDefinitions reads scope_definitions.json. A missing file matches
// ErrNotFound; scope checks are then skipped by the caller.
func (s *FileStore) ReadScopeDefinitions(ctx context.Context) (*ScopeDefinitions, error) {
	var defs ScopeDefinitions
	err := s.withLock(ctx, func() error {
		return readDocument(filepath.Join(s.dir, ScopesFile), scopesSchema, &defs)
	})
	if err != nil {
		return nil, err
	}
	return &defs, nil
}

// ReadAgentContext reads scratch/<agent>_context.json.
func (s *FileStore) ReadAgentContext(agentID string) (*AgentContext, error) {
	path := filepath.Join(s.dir, ScratchDir, agentID+"_context.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("agent context", agentID)
		}
		return nil, errors.NewStoreError("read", path, err)
	}
	var ac AgentContext
	if err := json.Unmarshal(data, &ac); err != nil {
		return nil, errors.NewValidationError(filepath.Base(path), err.Error()).WithCause(err)
	}
	if ac.AgentID == "" {
		ac.AgentID = agentID
	}
	return &ac, nil
}
