package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	_ "image/jpeg"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/tiff"
)

// PageImage is one rasterized page ready for recognition.
type PageImage struct {
	Number int
	PNG    []byte
}

// upscaleFactor trades recognition accuracy against memory; scanned pages
// are usually embedded near print resolution and tesseract does noticeably
// better on the 2x raster.
const upscaleFactor = 2

var pageImageNumberPattern = regexp.MustCompile(`(\d+)`)

// rasterizePages pulls the embedded page rasters out of the document and
// upscales them for recognition. Scanned documents carry their page content
// as a single full-page image, so image extraction doubles as rasterization
// without an external renderer.
func rasterizePages(path string, maxPages int) ([]PageImage, error) {
	if maxPages < 1 {
		maxPages = 1
	}

	scratch, err := os.MkdirTemp("", "docex-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	selection := []string{fmt.Sprintf("1-%d", maxPages)}
	if err := api.ExtractImagesFile(path, scratch, selection, conf); err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}

	byPage := map[int]string{}
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return nil, fmt.Errorf("read scratch dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		page := pageNumberFromImageName(entry.Name())
		if page < 1 || page > maxPages {
			continue
		}
		// one raster per page; pages with several embedded images keep
		// the first one seen in name order
		if _, ok := byPage[page]; !ok {
			byPage[page] = filepath.Join(scratch, entry.Name())
		}
	}

	numbers := make([]int, 0, len(byPage))
	for page := range byPage {
		numbers = append(numbers, page)
	}
	sort.Ints(numbers)

	out := make([]PageImage, 0, len(numbers))
	for _, page := range numbers {
		data, err := upscaleToPNG(byPage[page])
		if err != nil {
			continue
		}
		out = append(out, PageImage{Number: page, PNG: data})
	}
	return out, nil
}

// pageNumberFromImageName parses the page component out of an extracted
// image filename. pdfcpu names these <input>_page_<n>_<obj>.<ext>; taking
// the first digit run after the basename stem keeps this tolerant of
// naming changes between releases.
func pageNumberFromImageName(name string) int {
	base := name[:len(name)-len(filepath.Ext(name))]
	matches := pageImageNumberPattern.FindAllString(base, -1)
	if len(matches) == 0 {
		return 0
	}
	for _, m := range matches {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func upscaleToPNG(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx()*upscaleFactor, bounds.Dy()*upscaleFactor))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
