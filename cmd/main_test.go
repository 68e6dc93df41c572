package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/revscore/internal/config"
	"github.com/okian/revscore/internal/domain/errkind"
	"github.com/okian/revscore/internal/domain/model"
)

const pageCreation = `{"batchcomplete":true,"query":{"pages":[{"pageid":7,"ns":0,"title":"Go","revisions":[
{"revid":%s,"parentid":0,"minor":false,"user":"192.0.2.1","anon":true,"timestamp":"2024-01-11T00:00:00Z","size":40,
"comment":"new","slots":{"main":{"contentmodel":"wikitext","content":"new page"}}}]}]}}`

// fakeWiki answers every revision query with an anonymous page creation.
func fakeWiki() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, pageCreation, r.URL.Query().Get("revids"))
	}))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "revscore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(ctx context.Context, args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestScoreCommand(t *testing.T) {
	_ = os.Unsetenv(config.EnvConfigPath)

	convey.Convey("Given a config pointing at a fake wiki", t, func() {
		up := fakeWiki()
		defer up.Close()
		path := writeConfig(t, "mwapi_url: "+up.URL+"\nlog_format: json\n")

		convey.Convey("When scoring a revision from the command line", func() {
			out, _, err := run(context.Background(), "score", "--config", path, "--rev-id", "300", "--lang", "en", "--extended-output")

			convey.Convey("Then the response is printed as JSON", func() {
				convey.So(err, convey.ShouldBeNil)
				var resp model.ScoringResponse
				convey.So(json.Unmarshal([]byte(out), &resp), convey.ShouldBeNil)
				sc, ok := resp.Score("enwiki", 300, "damaging")
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(sc.Features, convey.ShouldContainKey, "revision.user.is_anon")
			})
		})

		convey.Convey("When the revision id is invalid", func() {
			_, _, err := run(context.Background(), "score", "--config", path, "--rev-id=-1", "--lang", "en")

			convey.Convey("Then the command fails with invalid input", func() {
				convey.So(errkind.IsInvalidInput(err), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the rev-id flag is missing", func() {
			_, _, err := run(context.Background(), "score", "--config", path, "--lang", "en")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})

	convey.Convey("Given a config file with an unknown model kind", t, func() {
		path := writeConfig(t, "model_kind: nope\n")
		_, _, err := run(context.Background(), "score", "--config", path, "--rev-id", "1", "--lang", "en")
		convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
	})
}

func TestServeCommand(t *testing.T) {
	_ = os.Unsetenv(config.EnvConfigPath)

	convey.Convey("Given a config pointing at a fake wiki", t, func() {
		up := fakeWiki()
		defer up.Close()
		path := writeConfig(t, "mwapi_url: "+up.URL+"\n")

		l, err := net.Listen("tcp", "127.0.0.1:0")
		convey.So(err, convey.ShouldBeNil)
		addr := l.Addr().String()
		convey.So(l.Close(), convey.ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() {
			_, _, err := run(ctx, "serve", "--config", path, "--addr", addr)
			done <- err
		}()

		convey.Convey("When a predict request is sent", func() {
			var resp *http.Response
			body := []byte(`{"rev_id":300,"lang":"en"}`)
			for i := 0; i < 50; i++ {
				resp, err = http.Post("http://"+addr+"/v1/models/damaging:predict", "application/json", bytes.NewReader(body))
				if err == nil {
					break
				}
				time.Sleep(20 * time.Millisecond)
			}

			convey.Convey("Then the server scores it and stops on cancel", func() {
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = resp.Body.Close() }()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

				out, _, err := run(context.Background(), "bench", "--config", path, "--url", "http://"+addr,
					"--rev-ids", "300,301", "--requests", "6", "--workers", "2")
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "submitted=6 ok=6")

				cancel()
				select {
				case err := <-done:
					convey.So(err, convey.ShouldBeNil)
				case <-time.After(5 * time.Second):
					t.Fatal("server did not stop")
				}
			})
		})
	})
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		out, _, err := run(context.Background())

		convey.Convey("Then it prints help listing the subcommands", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "serve")
			convey.So(out, convey.ShouldContainSubstring, "score")
		})
	})
}
