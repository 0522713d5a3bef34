package ssd

import (
	"image"

	"gocv.io/x/gocv"

	"streetvision/internal/model"
)

type hsvRange struct {
	lower, upper gocv.Scalar
}

var (
	redRanges = []hsvRange{
		{gocv.NewScalar(0, 50, 50, 0), gocv.NewScalar(10, 255, 255, 0)},
		{gocv.NewScalar(170, 50, 50, 0), gocv.NewScalar(180, 255, 255, 0)},
	}
	greenRanges  = []hsvRange{{gocv.NewScalar(40, 50, 50, 0), gocv.NewScalar(80, 255, 255, 0)}}
	yellowRanges = []hsvRange{{gocv.NewScalar(20, 50, 50, 0), gocv.NewScalar(40, 255, 255, 0)}}
)

// classifyTrafficLight returns the dominant lamp colour inside roi.
// Empty regions and ties without any coloured pixel fall back to yellow.
func classifyTrafficLight(frame gocv.Mat, roi image.Rectangle) string {
	if roi.Empty() {
		return model.ColorYellow
	}

	region := frame.Region(roi)
	defer region.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(region, &hsv, gocv.ColorBGRToHSV)

	red := countInRanges(hsv, redRanges)
	green := countInRanges(hsv, greenRanges)
	yellow := countInRanges(hsv, yellowRanges)

	top := max(red, green, yellow)
	switch {
	case top == 0:
		return model.ColorYellow
	case top == red:
		return model.ColorRed
	case top == green:
		return model.ColorGreen
	default:
		return model.ColorYellow
	}
}

func countInRanges(hsv gocv.Mat, ranges []hsvRange) int {
	mask := gocv.NewMat()
	defer mask.Close()

	total := 0
	for _, r := range ranges {
		gocv.InRangeWithScalar(hsv, r.lower, r.upper, &mask)
		total += gocv.CountNonZero(mask)
	}
	return total
}
