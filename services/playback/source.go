// source.go - playback source resolution and the streamed object store.
//
// Authenticated stream URLs cannot be handed to the media element as-is:
// the element won't attach the bearer token. We fetch the bytes under
// the caller's token, park them in an in-memory object store, and point
// the player at a locally owned object URL instead. The object lives
// exactly as long as the session that resolved it; Release on close is a
// hard requirement, not a nicety, or the bytes leak for the page
// lifetime.
package playback

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"log/slog"

	"github.com/flicknest/flicknest/internal/metrics"
)

// ObjectPathPrefix is where locally owned objects are served from.
const ObjectPathPrefix = "/playback/objects/"

// defaultStreamSegment marks internal authenticated stream URLs.
// Override with STREAM_PATH_SEGMENT when the CDN layout changes.
const defaultStreamSegment = "/media/stream/"

// maxObjectBytes caps a single fetched object at 512MB. Anything larger
// should be served as a public CDN URL, not streamed through the gate.
const maxObjectBytes = 512 << 20

// PlaybackSource is a resolved, browser-usable playback URL plus the
// release handle for any locally owned bytes behind it.
type PlaybackSource struct {
	URL string

	objectID string
	store    *objectStore
	once     sync.Once
}

// IsLocal reports whether the source points at a locally owned object.
func (p *PlaybackSource) IsLocal() bool { return p.objectID != "" }

// Release frees the locally owned object, if any. Idempotent: the close
// path and error paths may both call it.
func (p *PlaybackSource) Release() {
	p.once.Do(func() {
		if p.objectID != "" && p.store != nil {
			p.store.remove(p.objectID)
		}
	})
}

// storedObject is one fetched media payload.
type storedObject struct {
	data        []byte
	contentType string
}

// objectStore holds fetched media bytes keyed by object ID.
type objectStore struct {
	mu      sync.Mutex
	objects map[string]storedObject
}

func newObjectStore() *objectStore {
	return &objectStore{objects: make(map[string]storedObject)}
}

func (st *objectStore) put(id string, obj storedObject) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.objects[id] = obj
	metrics.ActiveBlobObjects.Inc()
}

func (st *objectStore) remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.objects[id]; ok {
		delete(st.objects, id)
		metrics.ActiveBlobObjects.Dec()
	}
}

func (st *objectStore) get(id string) (storedObject, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	obj, ok := st.objects[id]
	return obj, ok
}

// len reports the number of live objects (test hook).
func (st *objectStore) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.objects)
}

// SourceResolver turns raw catalog URLs into playable sources.
type SourceResolver struct {
	http          *http.Client
	store         *objectStore
	streamSegment string
	log           *slog.Logger
}

// NewSourceResolver builds a resolver with its own object store.
func NewSourceResolver(log *slog.Logger) *SourceResolver {
	segment := os.Getenv("STREAM_PATH_SEGMENT")
	if segment == "" {
		segment = defaultStreamSegment
	}
	return &SourceResolver{
		http:          &http.Client{Timeout: 60 * time.Second},
		store:         newObjectStore(),
		streamSegment: segment,
		log:           log,
	}
}

// isAuthenticatedStream classifies a URL. Local object URLs are never
// re-fetched: re-resolving an already-resolved source must not double
// the bytes.
func (r *SourceResolver) isAuthenticatedStream(rawURL string) bool {
	if strings.HasPrefix(rawURL, ObjectPathPrefix) {
		return false
	}
	return strings.Contains(rawURL, r.streamSegment)
}

// Resolve returns a playable source for rawURL. Authenticated stream
// URLs are fetched under the bearer token and rehomed into the object
// store; a failed fetch degrades to the raw URL (playback may still work
// through the CDN) instead of failing the open. Public and iframe URLs
// pass through untouched.
func (r *SourceResolver) Resolve(ctx context.Context, rawURL, bearer string) *PlaybackSource {
	if !r.isAuthenticatedStream(rawURL) {
		return &PlaybackSource{URL: rawURL}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		r.log.Warn("stream fetch request build failed, using raw URL", "error", err)
		return &PlaybackSource{URL: rawURL}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := r.http.Do(req)
	if err != nil {
		r.log.Warn("stream fetch failed, using raw URL", "url", rawURL, "error", err)
		return &PlaybackSource{URL: rawURL}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.log.Warn("stream fetch rejected, using raw URL", "url", rawURL, "status", resp.StatusCode)
		return &PlaybackSource{URL: rawURL}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectBytes))
	if err != nil {
		r.log.Warn("stream fetch read failed, using raw URL", "url", rawURL, "error", err)
		return &PlaybackSource{URL: rawURL}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}

	id := uuid.NewString()
	r.store.put(id, storedObject{data: data, contentType: contentType})

	return &PlaybackSource{
		URL:      ObjectPathPrefix + id,
		objectID: id,
		store:    r.store,
	}
}

// ServeObject serves a stored object's bytes. Mounted at ObjectPathPrefix.
func (r *SourceResolver) ServeObject(w http.ResponseWriter, req *http.Request, id string) {
	obj, ok := r.store.get(id)
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", obj.contentType)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, req, "", time.Time{}, bytes.NewReader(obj.data))
}
