//go:build !tinygo && cgo

package hal

import (
	"context"
	"errors"
	"image"
	"time"

	"npu/internal/buildinfo"

	"github.com/hajimehoshi/ebiten/v2"
	"golang.org/x/sync/errgroup"
)

var errWindowClosed = errors.New("window closed")

// RunWindow starts a desktop window that shows the debug framebuffer.
// It blocks until the window closes, the firmware stops, or a peer returns.
func RunWindow(newApp func(HAL) func() error, peers ...Peer) error {
	h := New().(*hostHAL)
	defer h.cpu.Halt()
	step := newApp(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			defer cancel()
			return p(ctx, h)
		})
	}

	game := &hostGame{h: h, step: step, done: ctx.Done()}
	ebiten.SetWindowTitle("NPU (" + buildinfo.Short() + ")")
	ebiten.SetWindowSize(h.fb.width*2, h.fb.height*2)
	ebiten.SetTPS(60)
	err := ebiten.RunGame(game)
	cancel()
	if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		return werr
	}
	if errors.Is(err, errWindowClosed) {
		return nil
	}
	return err
}

type hostGame struct {
	h       *hostHAL
	img     *image.RGBA
	fbImg   *ebiten.Image
	scratch []byte
	shown   uint64
	step    func() error
	done    <-chan struct{}
}

func (g *hostGame) Update() error {
	select {
	case <-g.done:
		return errWindowClosed
	default:
	}
	g.h.t.sync(time.Now())
	if g.step != nil {
		if err := g.step(); err != nil {
			return err
		}
	}
	return nil
}

func (g *hostGame) Draw(screen *ebiten.Image) {
	fb := g.h.fb
	if g.img == nil || g.img.Bounds().Dx() != fb.width || g.img.Bounds().Dy() != fb.height {
		g.img = image.NewRGBA(image.Rect(0, 0, fb.width, fb.height))
		g.scratch = make([]byte, len(fb.buf))
		if g.fbImg != nil {
			g.fbImg.Deallocate()
		}
		g.fbImg = ebiten.NewImage(fb.width, fb.height)
		g.shown = 0
	}

	if seq, ok := fb.copyIfNewer(g.scratch, g.shown); ok {
		g.shown = seq
		expandRGB565(g.img.Pix, g.scratch)
		g.fbImg.WritePixels(g.img.Pix)
	}
	screen.DrawImage(g.fbImg, nil)
}

func (g *hostGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.h.fb.width, g.h.fb.height
}
