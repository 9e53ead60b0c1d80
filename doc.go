// Package st7735 controls a ST7735 TFT LCD panel from a render loop.
//
// The ST7735 is a 18-bit RGB controller with a 132×162 internal RAM, usually
// sold on 128×128 and 128×160 modules. This package only knows the panel's
// command set: it sends the init sequence and, for every band rendered by a
// gfx.Display, addresses a window and writes the pixels into it. Moving the
// bytes is left to two callbacks, normally a transport.Driver.
//
// # Hardware Connection
//
//	Display Pin → System Pin
//	GND         → GND
//	VCC         → 3.3V
//	SCL/SCK     → SPI Clock (SCLK)
//	SDA/MOSI    → SPI Data (MOSI)
//	DC/A0       → GPIO (any available pin)
//	CS          → GPIO (driven by the transport, not the SPI port)
//	RES         → GPIO for hardware reset
//	BL          → 3.3V or a PWM pin
//
// # Basic Usage
//
// The board package wires everything together:
//
//	w := board.New(board.Peripherals{
//		Timer: tick.NewTimer(clockwork.NewRealClock(), time.Millisecond),
//		Bus:   transport.NewSPIBus(port, 16*physic.MegaHertz, nil),
//		CS:    gpioreg.ByName("GPIO8"),
//		DC:    gpioreg.ByName("GPIO25"),
//		RST:   gpioreg.ByName("GPIO24"),
//	}, &board.Config{Flags: st7735.FlagBGR})
//	log.Fatal(w.Run(ctx))
//
// To drive the panel by hand, pass the callbacks to Create:
//
//	drv, _ := transport.NewDriver(bus, cs, dc, nil)
//	dev, _ := st7735.Create(&st7735.Opts{W: 128, H: 160, Ticks: ticks},
//		func(_ *gfx.Display, cmd, param []byte) error {
//			return drv.SendCommand(cmd, param)
//		},
//		func(d *gfx.Display, cmd, param []byte) error {
//			return drv.SendPixels(d, cmd, param)
//		})
//
// # Color Order and Offsets
//
// Many modules are wired BGR; set FlagBGR when red and blue are swapped.
// 128×128 modules usually show a window of the 132×162 RAM starting at
// column 2 and row 1 or 3; use Opts.OffsetX/OffsetY or SetGap.
//
// # Datasheet
//
// https://www.displayfuture.com/Display/datasheet/controller/ST7735.pdf
package st7735
