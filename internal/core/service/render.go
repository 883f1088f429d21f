package service

import (
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
)

// RenderThumbnail uploads pb into dst, scaled to fill dst's bounds.
func RenderThumbnail(dst draw.Image, pb *domain.PixelBuffer) error {
	if pb == nil {
		return domain.ErrInvalidPixelBuffer.WithDetails("no thumbnail")
	}
	src, err := pb.ToImage()
	if err != nil {
		return err
	}
	if dst.Bounds().Eq(src.Bounds()) {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return nil
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return nil
}
