package mwapi_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/revscore/internal/adapters/mwapi"
	"github.com/okian/revscore/internal/domain/errkind"
	"github.com/okian/revscore/internal/retry"
	"github.com/okian/revscore/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const (
	revisionJSON = `{"batchcomplete":true,"query":{"pages":[{"pageid":7,"ns":0,"title":"Go","revisions":[
{"revid":%d,"parentid":%d,"minor":false,"user":%q,"userid":%d,"timestamp":"2024-01-11T00:00:00Z","size":120,
"comment":"copyedit","slots":{"main":{"contentmodel":"wikitext","contentformat":"text/x-wiki","content":"[[Link]] text"}}}]}]}}`
	userJSON    = `{"batchcomplete":true,"query":{"users":[{"userid":5,"name":"Alice","editcount":42,"registration":"2020-01-01T00:00:00Z","groups":["*","user"]}]}}`
	badRevJSON  = `{"batchcomplete":true,"query":{"badrevids":{"999999999999":{"revid":999999999999,"missing":true}}}}`
	missingUser = `{"batchcomplete":true,"query":{"users":[{"name":"Alice","missing":true}]}}`
)

type span struct{ start, end time.Time }

// upstream is a fake Action API. Revision 200 has parent 100 and editor
// Alice; revision 300 is a page creation by an IP.
type upstream struct {
	mu       sync.Mutex
	calls    map[string]int
	spans    map[string]span
	hosts    []string
	agents   []string
	delay    time.Duration
	fail     map[string]int // call kind -> number of leading 503s
	always   map[string]int // call kind -> status returned on every call
	userBody string
}

func newUpstream() *upstream {
	return &upstream{
		calls:    make(map[string]int),
		spans:    make(map[string]span),
		fail:     make(map[string]int),
		always:   make(map[string]int),
		userBody: userJSON,
	}
}

func (u *upstream) count(kind string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[kind]
}

func (u *upstream) set(fn func(u *upstream)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fn(u)
}

func (u *upstream) span(kind string) span {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.spans[kind]
}

func (u *upstream) seen() (hosts, agents []string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.hosts...), append([]string(nil), u.agents...)
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := "revision:" + q.Get("revids")
	if q.Get("list") == "users" {
		kind = "user:" + q.Get("ususers")
	}

	start := time.Now()
	u.mu.Lock()
	u.calls[kind]++
	n := u.calls[kind]
	u.hosts = append(u.hosts, r.Host)
	u.agents = append(u.agents, r.Header.Get("User-Agent"))
	failures, status := u.fail[kind], u.always[kind]
	delay, userBody := u.delay, u.userBody
	u.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	defer func() {
		u.mu.Lock()
		u.spans[kind] = span{start: start, end: time.Now()}
		u.mu.Unlock()
	}()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if n <= failures {
		http.Error(w, "upstream busy", http.StatusServiceUnavailable)
		return
	}
	switch kind {
	case "revision:200":
		fmt.Fprintf(w, revisionJSON, 200, 100, "Alice", 5)
	case "revision:100":
		fmt.Fprintf(w, revisionJSON, 100, 0, "Bob", 6)
	case "revision:300":
		fmt.Fprintf(w, revisionJSON, 300, 0, "192.0.2.1", 0)
	case "revision:999999999999":
		_, _ = w.Write([]byte(badRevJSON))
	case "revision:400":
		_, _ = w.Write([]byte(`{"query":{"pages":[{"pageid":1,"revisions":[`))
	case "user:Alice":
		_, _ = w.Write([]byte(userBody))
	default:
		_, _ = w.Write([]byte(`{"error":{"code":"badvalue","info":"nope"}}`))
	}
}

func fastPolicy() *retry.Policy {
	return retry.New(retry.WithBackoff(time.Millisecond, 4*time.Millisecond))
}

func TestFetch(t *testing.T) {
	Convey("Given a fake document API", t, func() {
		ctx := context.Background()
		up := newUpstream()
		srv := httptest.NewServer(up)
		defer srv.Close()

		f, err := mwapi.New(srv.URL,
			mwapi.WithRetryPolicy(fastPolicy()),
			mwapi.WithUserAgent("revscore-test"),
		)
		So(err, ShouldBeNil)
		defer f.Close()

		Convey("When fetching a revision without extra info", func() {
			cache, err := f.Fetch(ctx, 200, "en", false)

			Convey("Then exactly one call is made and cached", func() {
				So(err, ShouldBeNil)
				So(cache.Len(), ShouldEqual, 1)
				rev, ok := cache.Revision(200)
				So(ok, ShouldBeTrue)
				So(rev.ParentID, ShouldEqual, 100)
				So(rev.PageTitle, ShouldEqual, "Go")
				So(rev.Content, ShouldEqual, "[[Link]] text")
				So(up.count("revision:200"), ShouldEqual, 1)
				So(up.count("revision:100"), ShouldEqual, 0)
				hosts, agents := up.seen()
				So(hosts, ShouldResemble, []string{"en.wikipedia.org"})
				So(agents, ShouldResemble, []string{"revscore-test"})
			})
		})

		Convey("When fetching with extra info", func() {
			up.set(func(u *upstream) { u.delay = 50 * time.Millisecond })
			cache, err := f.Fetch(ctx, 200, "en", true)

			Convey("Then the parent and user are merged into one cache", func() {
				So(err, ShouldBeNil)
				So(cache.Len(), ShouldEqual, 3)
				_, ok := cache.Revision(100)
				So(ok, ShouldBeTrue)
				alice, ok := cache.User("Alice")
				So(ok, ShouldBeTrue)
				So(alice.EditCount, ShouldEqual, 42)
			})

			Convey("And the parent and user calls overlap in time", func() {
				p, u := up.span("revision:100"), up.span("user:Alice")
				So(p.start.Before(u.end), ShouldBeTrue)
				So(u.start.Before(p.end), ShouldBeTrue)
				So(up.span("revision:200").end.After(p.start), ShouldBeFalse)
			})
		})

		Convey("When the revision call returns 503 three times", func() {
			up.set(func(u *upstream) { u.fail["revision:200"] = 3 })
			cache, err := f.Fetch(ctx, 200, "en", false)

			Convey("Then the fourth attempt succeeds", func() {
				So(err, ShouldBeNil)
				So(cache.Len(), ShouldEqual, 1)
				So(up.count("revision:200"), ShouldEqual, 4)
			})
		})

		Convey("When the revision call always returns 503", func() {
			up.set(func(u *upstream) { u.always["revision:200"] = http.StatusServiceUnavailable })
			_, err := f.Fetch(ctx, 200, "en", false)

			Convey("Then it fails as an inference error after four attempts", func() {
				So(errkind.IsInference(err), ShouldBeTrue)
				So(retry.IsTransient(err), ShouldBeTrue)
				So(up.count("revision:200"), ShouldEqual, 4)
			})
		})

		Convey("When the revision call returns another server error", func() {
			up.set(func(u *upstream) { u.always["revision:200"] = http.StatusBadGateway })
			_, err := f.Fetch(ctx, 200, "en", false)

			Convey("Then it fails without retrying", func() {
				So(errkind.IsInference(err), ShouldBeTrue)
				So(up.count("revision:200"), ShouldEqual, 1)
			})
		})

		Convey("When the revision id is unknown upstream", func() {
			_, err := f.Fetch(ctx, 999999999999, "en", true)

			Convey("Then it is invalid input and not retried", func() {
				So(errkind.IsInvalidInput(err), ShouldBeTrue)
				So(errors.Is(err, mwapi.ErrBadRevision), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "999999999999")
				So(up.count("revision:999999999999"), ShouldEqual, 1)
			})
		})

		Convey("When the document is truncated", func() {
			_, err := f.Fetch(ctx, 400, "en", false)

			Convey("Then it is an inference error", func() {
				So(errkind.IsInference(err), ShouldBeTrue)
				So(errors.Is(err, mwapi.ErrMalformedDocument), ShouldBeTrue)
			})
		})

		Convey("When the user call keeps failing", func() {
			up.set(func(u *upstream) { u.always["user:Alice"] = http.StatusServiceUnavailable })
			_, err := f.Fetch(ctx, 200, "en", true)

			Convey("Then the whole fetch fails", func() {
				So(errkind.IsInference(err), ShouldBeTrue)
				So(up.count("user:Alice"), ShouldEqual, 4)
			})
		})

		Convey("When the editor account does not exist", func() {
			up.set(func(u *upstream) { u.userBody = missingUser })
			cache, err := f.Fetch(ctx, 200, "en", true)

			Convey("Then a missing user is cached", func() {
				So(err, ShouldBeNil)
				u, ok := cache.User("Alice")
				So(ok, ShouldBeTrue)
				So(u.Missing, ShouldBeTrue)
			})
		})

		Convey("When fetching extra info for an anonymous page creation", func() {
			cache, err := f.Fetch(ctx, 300, "en", true)

			Convey("Then no parent or user call is made", func() {
				So(err, ShouldBeNil)
				So(cache.Len(), ShouldEqual, 1)
				rev, _ := cache.Revision(300)
				So(rev.Anon, ShouldBeTrue)
				So(up.count("revision:0"), ShouldEqual, 0)
				So(up.count("user:192.0.2.1"), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a host header template", t, func() {
		up := newUpstream()
		srv := httptest.NewServer(up)
		defer srv.Close()
		f, err := mwapi.New(srv.URL+"/w/api.php", mwapi.WithHostHeader("{lang}.wikipedia.beta.org"), mwapi.WithRetryPolicy(fastPolicy()))
		So(err, ShouldBeNil)

		_, err = f.Fetch(context.Background(), 200, "de", false)
		So(err, ShouldBeNil)
		hosts, _ := up.seen()
		So(hosts, ShouldResemble, []string{"de.wikipedia.beta.org"})
	})

	Convey("Given an unreachable document API", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		f, err := mwapi.New(addr, mwapi.WithRetryPolicy(fastPolicy()), mwapi.WithTimeout(time.Second))
		So(err, ShouldBeNil)

		_, err = f.Fetch(context.Background(), 200, "en", false)

		Convey("Then the error asks the caller to escalate", func() {
			So(errkind.IsInference(err), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "could not be reached")
			So(strings.HasSuffix(err.Error(), "please contact the ML team if the issue persists"), ShouldBeTrue)
		})
	})

	Convey("Given an invalid base url", t, func() {
		_, err := mwapi.New("api-ro.discovery.wmnet")
		So(err, ShouldNotBeNil)
	})
}

func TestConnPool(t *testing.T) {
	Convey("Given a connection pool", t, func() {
		p := mwapi.NewConnPool(time.Second)

		Convey("When the same host is requested twice", func() {
			a, errA := p.Client("api.example")
			b, errB := p.Client("api.example")

			Convey("Then one client is reused", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(a, ShouldEqual, b)
				So(p.Opened(), ShouldEqual, 1)
			})
		})

		Convey("When a client is marked closed", func() {
			a, _ := p.Client("api.example")
			p.MarkClosed("api.example")
			b, err := p.Client("api.example")

			Convey("Then it is replaced", func() {
				So(err, ShouldBeNil)
				So(a, ShouldNotEqual, b)
				So(p.Opened(), ShouldEqual, 2)
			})
		})

		Convey("When the pool is closed", func() {
			_, _ = p.Client("api.example")
			So(p.Close(), ShouldBeNil)
			_, err := p.Client("api.example")

			Convey("Then no more clients are handed out", func() {
				So(errors.Is(err, mwapi.ErrPoolClosed), ShouldBeTrue)
			})
		})
	})

	Convey("Given concurrent callers", t, func() {
		p := mwapi.NewConnPool(time.Second)
		var wg sync.WaitGroup
		var failures atomic.Int32
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := p.Client("api.example"); err != nil {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()
		So(failures.Load(), ShouldEqual, 0)
		So(p.Opened(), ShouldEqual, 1)
	})
}
