package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/bundle-updater/internal/config"
	"github.com/oshokin/bundle-updater/internal/domain/release"
)

const testPublicKey = "dW50cnVzdGVkIGNvbW1lbnQ6IHRlc3QK"

func currentKey(t *testing.T, goos string) string {
	t.Helper()

	target, err := release.TargetFor(goos, runtime.GOARCH)
	if err != nil {
		t.Skipf("no target name for %s", runtime.GOARCH)
	}

	return target.Key()
}

func newTestUpdater(t *testing.T, endpoints []string, currentVersion string, opts ...Option) *Updater {
	t.Helper()

	cfg := &config.Config{
		Endpoints: endpoints,
		PublicKey: testPublicKey,
		Timeout:   5 * time.Second,
		Headers:   map[string]string{"X-Channel": "stable"},
	}

	opts = append([]Option{
		WithExecutablePath("/opt/app/bundle"),
		withPlatform("linux", func(string) string { return "" }),
	}, opts...)

	u, err := New(cfg, currentVersion, opts...)
	require.NoError(t, err)

	return u
}

func dynamicManifest(version string) string {
	return fmt.Sprintf(`{"version":%q,"notes":"fixes","pub_date":"2026-01-02T03:04:05Z",`+
		`"url":"https://example.com/app.AppImage","signature":"sig","format":"appimage"}`, version)
}

// manifestServer serves body for every request and counts hits.
func manifestServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.Header.Get("Accept") != "application/json" || r.Header.Get("X-Channel") != "stable" {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return server, &hits
}

func TestResolveEndpoint(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://u/windows/x86_64/1.2.3",
		ResolveEndpoint("https://u/{{target}}/{{arch}}/{{current_version}}", "1.2.3", "windows", "x86_64"))
	require.Equal(t, "https://u/latest.json", ResolveEndpoint("https://u/latest.json", "1.2.3", "linux", "aarch64"))
	require.Equal(t, "https://u/1.0.0?v=1.0.0",
		ResolveEndpoint("https://u/{{current_version}}?v={{current_version}}", "1.0.0", "linux", "x86_64"))
}

func TestDefaultComparator(t *testing.T) {
	t.Parallel()

	current := semver.MustParse("1.0.0")

	cases := map[string]bool{
		"1.0.1":        true,
		"0.9.9":        false,
		"1.0.0":        false,
		"1.0.0-beta.1": false,
		"2.0.0-rc.1":   true,
	}

	for remote, want := range cases {
		got := DefaultComparator(current, &release.RemoteRelease{Version: semver.MustParse(remote)})
		require.Equal(t, want, got, remote)
	}
}

func TestCheck_Gate(t *testing.T) {
	t.Parallel()

	newer, _ := manifestServer(t, http.StatusOK, dynamicManifest("1.0.1"))
	older, _ := manifestServer(t, http.StatusOK, dynamicManifest("0.9.9"))

	update, err := newTestUpdater(t, []string{newer.URL}, "1.0.0").Check(context.Background())
	require.NoError(t, err)
	require.NotNil(t, update)
	require.Equal(t, "1.0.1", update.Version.String())
	require.Equal(t, "1.0.0", update.CurrentVersion.String())
	require.Equal(t, "fixes", update.Notes)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), update.PubDate.UTC())
	require.Equal(t, "https://example.com/app.AppImage", update.DownloadURL)
	require.Equal(t, release.FormatAppImage, update.Format)
	require.Equal(t, "/opt/app/bundle", update.ExtractPath)
	require.Equal(t, "stable", update.Headers.Get("X-Channel"))

	update, err = newTestUpdater(t, []string{older.URL}, "1.0.0").Check(context.Background())
	require.NoError(t, err)
	require.Nil(t, update)

	always := WithComparator(func(*semver.Version, *release.RemoteRelease) bool { return true })

	update, err = newTestUpdater(t, []string{older.URL}, "1.0.0", always).Check(context.Background())
	require.NoError(t, err)
	require.NotNil(t, update)
	require.Equal(t, "0.9.9", update.Version.String())
}

// TestCheck_NoContent stops at the first 204 without consulting later endpoints.
func TestCheck_NoContent(t *testing.T) {
	t.Parallel()

	empty, emptyHits := manifestServer(t, http.StatusNoContent, "")
	later, laterHits := manifestServer(t, http.StatusOK, dynamicManifest("9.0.0"))

	update, err := newTestUpdater(t, []string{empty.URL, later.URL}, "1.0.0").Check(context.Background())
	require.NoError(t, err)
	require.Nil(t, update)
	require.EqualValues(t, 1, emptyHits.Load())
	require.Zero(t, laterHits.Load())
}

// TestCheck_Failover uses the first endpoint that parses and never queries the rest.
func TestCheck_Failover(t *testing.T) {
	t.Parallel()

	broken, brokenHits := manifestServer(t, http.StatusInternalServerError, "oops")
	garbage, garbageHits := manifestServer(t, http.StatusOK, `{"version":"1.0.1"}`)
	good, goodHits := manifestServer(t, http.StatusOK, dynamicManifest("1.0.1"))
	newest, newestHits := manifestServer(t, http.StatusOK, dynamicManifest("5.0.0"))

	u := newTestUpdater(t, []string{broken.URL, garbage.URL, good.URL, newest.URL}, "1.0.0")

	update, err := u.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.0.1", update.Version.String())
	require.EqualValues(t, 1, brokenHits.Load())
	require.EqualValues(t, 1, garbageHits.Load())
	require.EqualValues(t, 1, goodHits.Load())
	require.Zero(t, newestHits.Load())
}

func TestCheck_AllEndpointsFail(t *testing.T) {
	t.Parallel()

	broken, _ := manifestServer(t, http.StatusNotFound, "")
	garbage, _ := manifestServer(t, http.StatusOK, "not json")

	_, err := newTestUpdater(t, []string{garbage.URL, broken.URL}, "1.0.0").Check(context.Background())
	require.ErrorIs(t, err, ErrReleaseNotFound)
	require.ErrorIs(t, err, ErrNetwork)

	_, err = newTestUpdater(t, []string{broken.URL, garbage.URL}, "1.0.0").Check(context.Background())
	require.ErrorIs(t, err, ErrReleaseNotFound)
	require.ErrorIs(t, err, release.ErrInvalidManifest)
	require.NotErrorIs(t, err, ErrNetwork)
}

// TestCheck_StaticManifest resolves the running target from a platforms map.
func TestCheck_StaticManifest(t *testing.T) {
	t.Parallel()

	key := currentKey(t, "linux")
	body, err := json.Marshal(map[string]any{
		"version": "v2.0.0",
		"platforms": map[string]any{
			key:                  map[string]string{"url": "https://example.com/right", "signature": "s", "format": "appimage"},
			"windows-x86_64":     map[string]string{"url": "https://example.com/wrong", "signature": "s", "format": "nsis"},
			"custom-channel-key": map[string]string{"url": "https://example.com/custom", "signature": "s", "format": "appimage"},
		},
	})
	require.NoError(t, err)

	server, _ := manifestServer(t, http.StatusOK, string(body))

	update, err := newTestUpdater(t, []string{server.URL}, "1.0.0").Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://example.com/right", update.DownloadURL)
	require.Equal(t, key, update.Target)

	update, err = newTestUpdater(t, []string{server.URL}, "1.0.0", WithTarget("custom-channel-key")).
		Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://example.com/custom", update.DownloadURL)
}

func TestCheck_TargetNotFound(t *testing.T) {
	t.Parallel()

	server, _ := manifestServer(t, http.StatusOK,
		`{"version":"2.0.0","platforms":{"windows-x86_64":{"url":"u","signature":"s","format":"nsis"}}}`)

	_, err := newTestUpdater(t, []string{server.URL}, "1.0.0", WithTarget("linux-aarch64")).Check(context.Background())
	require.ErrorIs(t, err, release.ErrTargetNotFound)
}

// TestCheck_TemplateValues checks what the server sees for each placeholder.
func TestCheck_TemplateValues(t *testing.T) {
	t.Parallel()

	var path atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	template := server.URL + "/{{target}}/{{arch}}/{{current_version}}"
	target, err := release.TargetFor("linux", runtime.GOARCH)
	if err != nil {
		t.Skipf("no target name for %s", runtime.GOARCH)
	}

	_, err = newTestUpdater(t, []string{template}, "v1.2.3").Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/linux/"+target.Arch+"/1.2.3", path.Load())

	_, err = newTestUpdater(t, []string{template}, "1.2.3", WithTarget("beta")).Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/beta/"+target.Arch+"/1.2.3", path.Load())

	mac := newTestUpdater(t, []string{template}, "1.2.3",
		withPlatform("darwin", func(string) string { return "" }))
	require.Equal(t, "macos-"+target.Arch, mac.lookupKey())

	_, err = mac.Check(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/macos/"+target.Arch+"/1.2.3", path.Load())
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(&config.Config{PublicKey: testPublicKey}, "1.0.0", WithExecutablePath("/bin/app"))
	require.ErrorIs(t, err, config.ErrNoEndpoints)

	_, err = New(&config.Config{Endpoints: []string{"https://example.com"}, PublicKey: testPublicKey},
		"not-a-version", WithExecutablePath("/bin/app"))
	require.ErrorIs(t, err, errInvalidCurrentVersion)
}

func TestExtractPathFor(t *testing.T) {
	t.Parallel()

	noEnv := func(string) string { return "" }
	appImageEnv := func(key string) string {
		if key == "APPIMAGE" {
			return "/home/user/Apps/bundle.AppImage"
		}

		return ""
	}

	path, err := extractPathFor("linux", "/tmp/.mount_bundle/usr/bin/bundle", appImageEnv)
	require.NoError(t, err)
	require.Equal(t, "/home/user/Apps/bundle.AppImage", path)

	path, err = extractPathFor("linux", "/opt/bundle/bundle", noEnv)
	require.NoError(t, err)
	require.Equal(t, "/opt/bundle/bundle", path)

	path, err = extractPathFor("darwin", "/Applications/Foo.app/Contents/MacOS/foo", noEnv)
	require.NoError(t, err)
	require.Equal(t, "/Applications/Foo.app", path)

	_, err = extractPathFor("darwin", "/usr/local/bin/foo", noEnv)
	require.ErrorIs(t, err, ErrFailedToDetermineExtractPath)

	_, err = extractPathFor("linux", "", noEnv)
	require.ErrorIs(t, err, ErrFailedToDetermineExtractPath)

	_, err = extractPathFor("plan9", "/bin/foo", noEnv)
	require.ErrorIs(t, err, ErrFailedToDetermineExtractPath)
}

func TestSameProcessName(t *testing.T) {
	t.Parallel()

	require.True(t, sameProcessName("bundle", "bundle"))
	require.True(t, sameProcessName("bundle-updater-", "bundle-updater-gui"))
	require.False(t, sameProcessName("bundle", "bundle-updater"))
}
