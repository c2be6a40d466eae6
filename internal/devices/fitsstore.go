package devices

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/unklstewy/skycapture/internal/capture"
)

var imageTypes = map[capture.FrameType]string{
	capture.FrameLight: "Light Frame",
	capture.FrameBias:  "Bias Frame",
	capture.FrameDark:  "Dark Frame",
	capture.FrameFlat:  "Flat Frame",
}

// FITSStore writes captured images as single-HDU FITS files.
type FITSStore struct {
	log *slog.Logger
}

func NewFITSStore(logger *slog.Logger) *FITSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FITSStore{log: logger.With("component", "fits")}
}

// Save writes img to path through a temporary file so that a partial
// image never appears under the final name.
func (s *FITSStore) Save(path string, img capture.Image, meta capture.ImageMeta) error {
	if img.Width <= 0 || img.Height <= 0 || len(img.Pixels) != img.Width*img.Height {
		return fmt.Errorf("invalid image geometry %dx%d with %d pixels", img.Width, img.Height, len(img.Pixels))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".capture-*.fits")
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeFITS(tmp, img, meta); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close image file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move image into place: %w", err)
	}

	s.log.Info("image saved", "path", path, "width", img.Width, "height", img.Height)
	return nil
}

func writeFITS(w *os.File, img capture.Image, meta capture.ImageMeta) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("failed to start FITS file: %w", err)
	}
	defer f.Close()

	hdu := fitsio.NewImage(32, []int{img.Width, img.Height})
	defer hdu.Close()

	if err := hdu.Header().Append(headerCards(img, meta)...); err != nil {
		return fmt.Errorf("failed to build FITS header: %w", err)
	}
	if err := hdu.Write(img.Pixels); err != nil {
		return fmt.Errorf("failed to encode pixels: %w", err)
	}
	if err := f.Write(hdu); err != nil {
		return fmt.Errorf("failed to write FITS image: %w", err)
	}
	return nil
}

func headerCards(img capture.Image, meta capture.ImageMeta) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "IMAGETYP", Value: imageTypes[meta.FrameType], Comment: "Type of exposure"},
		{Name: "EXPTIME", Value: meta.Exposure, Comment: "[s] Total exposure time"},
		{Name: "DATE-OBS", Value: meta.Time.UTC().Format("2006-01-02T15:04:05.000"), Comment: "UTC start of exposure"},
	}
	if meta.Target != "" {
		cards = append(cards, fitsio.Card{Name: "OBJECT", Value: meta.Target, Comment: "Target name"})
	}
	if meta.Observer != "" {
		cards = append(cards, fitsio.Card{Name: "OBSERVER", Value: meta.Observer})
	}
	if meta.Filter != "" {
		cards = append(cards, fitsio.Card{Name: "FILTER", Value: meta.Filter, Comment: "Filter"})
	}
	if img.Frame.BinX > 0 {
		cards = append(cards,
			fitsio.Card{Name: "XBINNING", Value: img.Frame.BinX, Comment: "Binning factor in width"},
			fitsio.Card{Name: "YBINNING", Value: img.Frame.BinY, Comment: "Binning factor in height"},
		)
	}
	if img.HFR > 0 {
		cards = append(cards, fitsio.Card{Name: "HFR", Value: img.HFR, Comment: "[px] Median half-flux radius"})
	}
	cards = append(cards, fitsio.Card{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05"), Comment: "File creation time"})
	return cards
}
