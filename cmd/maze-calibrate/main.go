package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"

	"github.com/disintegration/imaging"

	"maze-relay-go/internal/calibration"
	"maze-relay-go/internal/geom"
	"maze-relay-go/internal/render"
	"maze-relay-go/internal/vision"
)

func main() {
	var (
		output  = flag.String("output", "", "Path for the processed image with corner markers")
		width   = flag.Int("width", 1280, "Width of the rectified output")
		height  = flag.Int("height", 720, "Height of the rectified output")
		backend = flag.String("backend", "auto", "Vision backend: auto, native or opencv")
		margin  = flag.Int("margin", calibration.DefaultParams().Margin, "Border margin the maze boundary must clear")
		verbose = flag.Bool("v", false, "Log each pipeline stage")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(flag.Arg(0), *output, *width, *height, *backend, *margin, logger); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Maze processing completed successfully.")
}

func run(input, output string, width, height int, backend string, margin int, logger *slog.Logger) error {
	src, err := imaging.Open(input)
	if err != nil {
		return fmt.Errorf("read %s: %w", input, err)
	}
	frame := vision.ToGray(src)

	prims, err := vision.Select(backend)
	if err != nil {
		return err
	}
	params := calibration.DefaultParams()
	params.Margin = margin
	engine := calibration.NewEngine(prims, params, logger)

	corners, err := engine.DetectCorners(frame)
	if err != nil {
		return err
	}
	fmt.Printf("Detected number of corners: %d\n", len(corners))

	marker := color.RGBA{R: 255, A: 255}
	var out *image.RGBA
	if len(corners) == 4 {
		ordered := calibration.OrderCorners([4]geom.Point(corners))
		fmt.Printf("Ordered corners: %v\n", ordered)

		w, h := float64(width-1), float64(height-1)
		dst := [4]geom.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
		hom, err := prims.GetPerspectiveTransform(ordered, dst)
		if err != nil {
			return fmt.Errorf("perspective transform: %w", err)
		}
		warped, err := prims.WarpPerspective(frame, hom, width, height)
		if err != nil {
			return err
		}
		out = render.FromGray(warped)
		render.Markers(out, dst[:], 10, marker)
	} else {
		fmt.Printf("Corners: %v\n", corners)
		out = render.FromGray(frame)
		render.Markers(out, corners, 10, marker)
	}

	if output == "" {
		return nil
	}
	if err := imaging.Save(out, output); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	logger.Info("processed maze image with corners saved", "path", output, "backend", backend)
	return nil
}
