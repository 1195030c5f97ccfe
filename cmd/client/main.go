package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gdamore/tcell/v2"

	"statesync/internal/client"
	"statesync/internal/config"
	"statesync/internal/logging"
	"statesync/internal/model"
)

func main() {
	var (
		configPath = flag.String("config", "config.toml", "path to TOML config file")
		addr       = flag.String("addr", "", "server address, overrides config")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.Client.ServerAddr = *addr
	}
	if cfg.Log.File == "" {
		cfg.Log.File = "client.log"
	}

	// The UI owns the terminal; logs go to the file only.
	logger := logging.FileOnly(cfg.Log)
	defer logger.Sync()

	c := client.New(cfg.Client, logger)
	if err := c.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("screen: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("screen init: %v", err)
	}
	defer screen.Fini()
	screen.SetStyle(tcell.StyleDefault)

	quit := make(chan struct{})
	go pollKeys(screen, c, quit)

	drawTicker := time.NewTicker(time.Second / 30)
	defer drawTicker.Stop()

	for {
		select {
		case <-drawTicker.C:
			draw(screen, c)
		case <-quit:
			return
		case <-c.Done():
			return
		}
	}
}

// pollKeys translates key events into a movement intent. Arrow keys move,
// space stops, Esc or Ctrl+C quits. Terminals deliver no key-up events, so
// movement persists until explicitly stopped.
func pollKeys(screen tcell.Screen, c *client.Client, quit chan struct{}) {
	for {
		ev := screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			switch ev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				close(quit)
				return
			case tcell.KeyUp:
				c.SetMovement(model.Vec2{Y: -1})
			case tcell.KeyDown:
				c.SetMovement(model.Vec2{Y: 1})
			case tcell.KeyLeft:
				c.SetMovement(model.Vec2{X: -1})
			case tcell.KeyRight:
				c.SetMovement(model.Vec2{X: 1})
			default:
				c.SetMovement(model.Vec2{})
			}
		case *tcell.EventResize:
			screen.Sync()
		}
	}
}

func draw(screen tcell.Screen, c *client.Client) {
	screen.Clear()
	w, h := screen.Size()

	local, others, rtt, pending, ready := c.View(time.Now())
	if !ready {
		drawText(screen, 0, 0, tcell.StyleDefault, "connecting...")
		screen.Show()
		return
	}

	for _, e := range others {
		x, y := project(e.Position, w, h)
		screen.SetContent(x, y, 'O', nil, tcell.StyleDefault.Foreground(tcell.ColorBlue))
	}

	x, y := project(local.Position, w, h)
	screen.SetContent(x, y, '@', nil, tcell.StyleDefault.Foreground(tcell.ColorGreen))

	drawText(screen, 0, 0, tcell.StyleDefault, "arrows: move  space: stop  esc: quit")
	drawText(screen, 0, 1, tcell.StyleDefault,
		fmt.Sprintf("pos (%.2f, %.2f)  rtt %dms  pending %d",
			local.Position.X, local.Position.Y, rtt.Milliseconds(), pending))

	screen.Show()
}

// project maps world coordinates onto the terminal grid, leaving the top two
// rows for the status text.
func project(p model.Vec2, w, h int) (int, int) {
	b := model.WorldBounds
	if w < 2 || h < 4 {
		return 0, 0
	}
	x := int((p.X - b.Min.X) / (b.Max.X - b.Min.X) * float64(w-1))
	y := 2 + int((p.Y-b.Min.Y)/(b.Max.Y-b.Min.Y)*float64(h-3))
	return x, y
}

func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	for i, r := range text {
		screen.SetContent(x+i, y, r, nil, style)
	}
}
