package detection

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/gift"
	"gocv.io/x/gocv"

	"labelcam/objdb"
)

// DefaultTargetHeight is the height sample images are normalised to
const DefaultTargetHeight = 480

// Build creates database name from the images in imagesDir. Every decodable
// image becomes one entry labelled <name>Label<N>, in file name order.
// Images are resized to targetHeight before keypoints are extracted.
func Build(name, imagesDir string, provider KeypointProvider, targetHeight int) (*objdb.Database, error) {
	if targetHeight <= 0 {
		targetHeight = DefaultTargetHeight
	}

	dirEntries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, &objdb.CreationError{Name: name, Err: err}
	}
	var files []string
	for _, de := range dirEntries {
		if de.Type().IsRegular() {
			files = append(files, filepath.Join(imagesDir, de.Name()))
		}
	}
	sort.Strings(files)

	db := &objdb.Database{Name: name}
	for _, path := range files {
		entry, err := buildEntry(path, provider, targetHeight)
		if err != nil {
			debugMsg("MATCHER", fmt.Sprintf("Skipping %s: %v", filepath.Base(path), err), name)
			continue
		}
		entry.Label = objdb.LabelName(name, len(db.Entries))
		entry.Color = objdb.LabelColor(entry.Label)
		db.Entries = append(db.Entries, entry)
		debugMsgVerbose("MATCHER", fmt.Sprintf("%s -> %s (%d keypoints)", filepath.Base(path), entry.Label, len(entry.Keypoints)), name)
	}

	if len(db.Entries) == 0 {
		return nil, &objdb.CreationError{Name: name, Err: fmt.Errorf("no usable sample images in %s", imagesDir)}
	}
	debugMsg("MATCHER", fmt.Sprintf("Built %d entries from %s", len(db.Entries), imagesDir), name)
	return db, nil
}

func buildEntry(path string, provider KeypointProvider, targetHeight int) (objdb.Entry, error) {
	img, err := decodeImage(path)
	if err != nil {
		return objdb.Entry{}, err
	}
	img = normalizeSample(img, targetHeight)

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return objdb.Entry{}, err
	}
	gray := toGray(mat)
	defer gray.Close()

	kps, desc, err := provider.DetectAndCompute(gray)
	if err != nil {
		return objdb.Entry{}, err
	}
	defer desc.Close()
	if desc.Empty() || len(kps) == 0 {
		return objdb.Entry{}, errors.New("no keypoints")
	}

	b := img.Bounds()
	entry := objdb.Entry{
		Width:   b.Dx(),
		Height:  b.Dy(),
		Corners: objdb.SampleCorners(b.Dx(), b.Dy()),
		Descriptors: objdb.Descriptor{
			Rows: desc.Rows(),
			Cols: desc.Cols(),
			Type: int(desc.Type()),
			Data: desc.ToBytes(),
		},
	}
	for _, kp := range kps {
		entry.Keypoints = append(entry.Keypoints, objdb.Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
			ClassID:  kp.ClassID,
		})
	}
	return entry, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// normalizeSample resizes img to height h, keeping its aspect ratio
func normalizeSample(img image.Image, h int) image.Image {
	if img.Bounds().Dy() == h {
		return img
	}
	g := gift.New(gift.Resize(0, h, gift.LanczosResampling))
	dst := image.NewRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}
