// Command zone creates, inspects and previews the zone polygon file.
//
//	zone -points "100,200;500,200;500,350;100,350" -width 640 -height 360
//	zone -show
//	zone -preview -device 0
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/virtual-fence/pipeline"
	"github.com/nvr-ai/virtual-fence/render"
	"github.com/nvr-ai/virtual-fence/zone"
)

func main() {
	var (
		file     string
		points   string
		width    int
		height   int
		show     bool
		preview  bool
		deviceID int
		video    string
	)
	flag.StringVar(&file, "file", "configs/roi_config.json", "Path to the zone file")
	flag.StringVar(&points, "points", "", "Polygon to save as \"x,y;x,y;...\"")
	flag.IntVar(&width, "width", 640, "Width of the frame the points refer to")
	flag.IntVar(&height, "height", 360, "Height of the frame the points refer to")
	flag.BoolVar(&show, "show", false, "Print the saved zone")
	flag.BoolVar(&preview, "preview", false, "Draw the saved zone over a live camera or video")
	flag.IntVar(&deviceID, "device", 0, "Camera device for -preview")
	flag.StringVar(&video, "video", "", "Video file for -preview instead of the camera")
	flag.Parse()

	switch {
	case points != "":
		pts, err := zone.ParsePoints(points)
		if err != nil {
			fail(err)
		}
		z, err := zone.New(pts)
		if err != nil {
			fail(err)
		}
		if err := zone.Save(file, z, width, height); err != nil {
			fail(err)
		}
		fmt.Printf("saved %d points for a %dx%d frame to %s\n", z.Len(), width, height, file)
	case preview:
		saved, err := zone.Load(file)
		if err != nil {
			fail(err)
		}
		runPreview(saved, deviceID, video)
	default:
		saved, err := zone.Load(file)
		if err != nil {
			fail(err)
		}
		fmt.Printf("file:   %s\n", file)
		fmt.Printf("frame:  %dx%d\n", saved.FrameWidth, saved.FrameHeight)
		fmt.Printf("bounds: %v\n", saved.Zone.Bounds())
		fmt.Printf("points: %s\n", zone.FormatPoints(saved.Zone.Points()))
	}
}

func runPreview(saved zone.Saved, deviceID int, video string) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if video != "" {
		vc, err = gocv.OpenVideoCapture(video)
	} else {
		vc, err = gocv.OpenVideoCapture(deviceID)
	}
	if err != nil {
		fail(err)
	}
	defer vc.Close()

	window := gocv.NewWindow("Zone preview")
	defer window.Close()

	img := gocv.NewMat()
	defer img.Close()

	fmt.Println("press q or ESC to quit")
	for {
		if ok := vc.Read(&img); !ok {
			return
		}
		if img.Empty() {
			continue
		}
		z := saved.FitTo(img.Cols(), img.Rows())
		render.Draw(&img, pipeline.FrameResult{}, z)
		gocv.PutText(&img, fmt.Sprintf("%d points", z.Len()), image.Pt(8, img.Rows()-12),
			gocv.FontHersheyPlain, 1.2, color.RGBA{R: 255, G: 255, B: 255}, 1)

		window.IMShow(img)
		if cmd, ok := render.KeyCommand(window.WaitKey(1)); ok && cmd == pipeline.Quit {
			return
		}
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "zone: %v\n", err)
	os.Exit(1)
}
