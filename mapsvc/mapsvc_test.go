package mapsvc

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"romap-gateway/apierr"
	"romap-gateway/mapcache"
	"romap-gateway/middleware/ratelimit/infra"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func params() mapcache.Params {
	return mapcache.Params{Lat: 40.7128, Lon: -74.006, Zoom: 14, Width: 600, Height: 400}
}

func TestLocationIQ_URL(t *testing.T) {
	l := NewLocationIQ(LocationIQOptions{BaseURL: "https://maps.example/v3/staticmap", APIKey: "pk.test"})

	p := params()
	p.MapType = "dark"
	u, err := url.Parse(l.URL(p))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "pk.test", q.Get("key"))
	assert.Equal(t, "40.7128,-74.006", q.Get("center"))
	assert.Equal(t, "14", q.Get("zoom"))
	assert.Equal(t, "600x400", q.Get("size"))
	assert.Equal(t, "dark", q.Get("maptype"))

	u, _ = url.Parse(l.URL(params()))
	assert.False(t, u.Query().Has("maptype"))
}

func TestLocationIQ_FetchOK(t *testing.T) {
	img := solidPNG(t, 10, 10, color.White)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "600x400", r.URL.Query().Get("size"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	l := NewLocationIQ(LocationIQOptions{BaseURL: srv.URL})
	got, err := l.Fetch(context.Background(), params())
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestLocationIQ_PropagatesUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	l := NewLocationIQ(LocationIQOptions{BaseURL: srv.URL})
	_, err := l.Fetch(context.Background(), params())

	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindUpstream, e.Kind)
	assert.Equal(t, http.StatusForbidden, e.Status)
	assert.Equal(t, "Forbidden", e.Body()["details"])
}

func TestLocationIQ_TimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	l := NewLocationIQ(LocationIQOptions{BaseURL: srv.URL, Timeout: 30 * time.Millisecond})
	_, err := l.Fetch(context.Background(), params())

	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindUpstreamUnreachable, e.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)
	assert.Equal(t, "Map service request timed out", e.Body()["details"])
}

func TestLocationIQ_BreakerOpensOnRepeated5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	l := NewLocationIQ(LocationIQOptions{BaseURL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Minute})
	for i := 0; i < 2; i++ {
		_, err := l.Fetch(context.Background(), params())
		assert.Equal(t, apierr.KindUpstream, apierr.KindOf(err))
	}

	_, err := l.Fetch(context.Background(), params())
	assert.Equal(t, apierr.KindUpstreamUnreachable, apierr.KindOf(err))
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not call out")
}

func TestLocationIQ_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	l := NewLocationIQ(LocationIQOptions{BaseURL: srv.URL, BreakerFailures: 1})
	for i := 0; i < 3; i++ {
		_, err := l.Fetch(context.Background(), params())
		assert.Equal(t, apierr.KindUpstream, apierr.KindOf(err))
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompositor_PlacesWatermarkBottomRight(t *testing.T) {
	mark := image.NewRGBA(image.Rect(0, 0, WatermarkWidth, WatermarkHeight))
	for y := 0; y < WatermarkHeight; y++ {
		for x := 0; x < WatermarkWidth; x++ {
			mark.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	c := NewCompositor(mark)

	out, err := c.Compose(solidPNG(t, 600, 400, color.White), 600, 400)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 600, 400), img.Bounds())

	left, top := 600-WatermarkWidth-5, 400-WatermarkHeight-3
	r, g, b, _ := img.At(left, top).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b}, "top-left of watermark")
	r, g, b, _ = img.At(left-1, top).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b}, "left of watermark stays untouched")
	r, g, b, _ = img.At(599, 399).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0xffff, 0xffff}, [3]uint32{r, g, b}, "margin stays untouched")
}

func TestCompositor_NarrowMapStillGetsWatermark(t *testing.T) {
	c := NewCompositor(Banner("RoMap"))

	out, err := c.Compose(solidPNG(t, 50, 50, color.White), 50, 50)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 50, 50), img.Bounds())
}

func TestCompositor_RejectsGarbage(t *testing.T) {
	_, err := NewCompositor(Banner("x")).Compose([]byte("not an image"), 0, 0)
	assert.Error(t, err)
}

// withDeclaredSize reescreve o IHDR de um PNG válido para anunciar outras
// dimensões, sem mexer nos dados comprimidos.
func withDeclaredSize(t *testing.T, pngData []byte, w, h uint32) []byte {
	t.Helper()
	require.Equal(t, "IHDR", string(pngData[12:16]))
	out := append([]byte(nil), pngData...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestCompositor_RejectsDeclaredSizeFarAboveRequest(t *testing.T) {
	huge := withDeclaredSize(t, solidPNG(t, 8, 8, color.White), 40000, 40000)
	require.Less(t, len(huge), 1024)

	_, err := NewCompositor(Banner("x")).Compose(huge, 600, 400)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestCompositor_AcceptsUpToTwiceTheRequest(t *testing.T) {
	out, err := NewCompositor(Banner("x")).Compose(solidPNG(t, 200, 100, color.White), 100, 50)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 100), img.Bounds())
}

func TestLoadCompositor_FallsBackToBanner(t *testing.T) {
	c, fromFile, err := LoadCompositor(t.TempDir()+"/missing.png", "RoMap")
	require.NoError(t, err)
	assert.False(t, fromFile)
	assert.NotNil(t, c)
}

type countingProvider struct {
	calls atomic.Int32
	img   []byte
	err   error
	gate  chan struct{}
}

func (p *countingProvider) Fetch(ctx context.Context, _ mapcache.Params) ([]byte, error) {
	p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	return p.img, p.err
}

type recordingObserver struct {
	mu           sync.Mutex
	hits, misses int
}

func (o *recordingObserver) CacheLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}
func (o *recordingObserver) Upstream(string, time.Duration) {}

func TestRenderer_MissThenHit(t *testing.T) {
	prov := &countingProvider{img: solidPNG(t, 600, 400, color.White)}
	obs := &recordingObserver{}
	r := NewRenderer(prov, NewCompositor(Banner("RoMap")), mapcache.NewMemory(time.Hour, 0), obs)

	img1, hit, err := r.Render(context.Background(), params())
	require.NoError(t, err)
	assert.False(t, hit)

	img2, hit, err := r.Render(context.Background(), params())
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, img1, img2)
	assert.Equal(t, int32(1), prov.calls.Load())
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
}

func TestRenderer_ErrorsAreNotCached(t *testing.T) {
	prov := &countingProvider{err: apierr.Upstream(http.StatusBadGateway, "Bad Gateway")}
	r := NewRenderer(prov, NewCompositor(Banner("RoMap")), mapcache.NewMemory(time.Hour, 0), nil)

	for i := 0; i < 2; i++ {
		_, _, err := r.Render(context.Background(), params())
		assert.Equal(t, apierr.KindUpstream, apierr.KindOf(err))
	}
	assert.Equal(t, int32(2), prov.calls.Load())
}

func TestRenderer_CollapsesConcurrentMisses(t *testing.T) {
	prov := &countingProvider{img: solidPNG(t, 100, 100, color.White), gate: make(chan struct{})}
	r := NewRenderer(prov, NewCompositor(Banner("RoMap")), mapcache.Nop{}, nil)

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := r.Render(context.Background(), params())
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return prov.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(prov.gate)
	wg.Wait()

	assert.Equal(t, int32(1), prov.calls.Load())
}

func TestRenderer_OversizedUpstreamImageIsUnreachable(t *testing.T) {
	prov := &countingProvider{img: withDeclaredSize(t, solidPNG(t, 8, 8, color.White), 30000, 30000)}
	r := NewRenderer(prov, NewCompositor(Banner("RoMap")), mapcache.NewMemory(time.Hour, 0), nil)

	_, _, err := r.Render(context.Background(), params())
	assert.Equal(t, apierr.KindUpstreamUnreachable, apierr.KindOf(err))
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestRenderer_HitDoesNotNeedASlot(t *testing.T) {
	pool := infra.NewChanPool(1)
	prov := &countingProvider{img: solidPNG(t, 600, 400, color.White)}
	r := NewRenderer(prov, NewCompositor(Banner("RoMap")), mapcache.NewMemory(time.Hour, 0), nil,
		WithSlots(pool, 20*time.Millisecond))

	_, _, err := r.Render(context.Background(), params())
	require.NoError(t, err)
	assert.Equal(t, 0, pool.InUse())

	hold, ok := pool.Acquire(context.Background())
	require.True(t, ok)
	defer hold()

	_, hit, err := r.Render(context.Background(), params())
	require.NoError(t, err)
	assert.True(t, hit)

	other := params()
	other.Zoom = 3
	_, _, err = r.Render(context.Background(), other)
	assert.Equal(t, apierr.KindOverloaded, apierr.KindOf(err))
	assert.Equal(t, int32(1), prov.calls.Load())
}

func TestRenderer_SlotOutlivesCanceledClient(t *testing.T) {
	pool := infra.NewChanPool(1)
	prov := &countingProvider{img: solidPNG(t, 600, 400, color.White), gate: make(chan struct{})}
	r := NewRenderer(prov, NewCompositor(Banner("RoMap")), mapcache.Nop{}, nil, WithSlots(pool, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = r.Render(ctx, params())
	}()

	require.Eventually(t, func() bool { return prov.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, pool.InUse(), "fetch still running after the client left")

	close(prov.gate)
	<-done
	assert.Equal(t, 0, pool.InUse())
}
