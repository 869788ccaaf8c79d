package cache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"brainregister/internal/models"
)

// Volume files are a fixed little-endian header followed by voxels at the
// volume's native bit depth in x-fastest order. The format is
// deliberately minimal: richer codecs are a collaborator concern.
const volumeMagic = uint32(0x42525630) // "BRV0"

type volumeHeader struct {
	Magic  uint32
	Pixels uint32
	Width  uint32
	Height uint32
	Depth  uint32
}

func pixelCode(p models.PixelType) uint32 {
	switch p {
	case models.Int8:
		return 1
	case models.UInt8:
		return 2
	case models.Int16:
		return 3
	default:
		return 4
	}
}

func pixelFromCode(code uint32) (models.PixelType, error) {
	switch code {
	case 1:
		return models.Int8, nil
	case 2:
		return models.UInt8, nil
	case 3:
		return models.Int16, nil
	case 4:
		return models.UInt16, nil
	}
	return models.UInt16, fmt.Errorf("unknown pixel type code %d", code)
}

func writeVolume(w io.Writer, vol *models.Volume) error {
	bw := bufio.NewWriter(w)
	hdr := volumeHeader{
		Magic:  volumeMagic,
		Pixels: pixelCode(vol.Pixels),
		Width:  uint32(vol.Width),
		Height: uint32(vol.Height),
		Depth:  uint32(vol.Depth),
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return err
	}

	switch vol.Pixels {
	case models.Int8:
		buf := make([]int8, len(vol.Data))
		for i, v := range vol.Data {
			buf[i] = int8(v)
		}
		if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
			return err
		}
	case models.UInt8:
		buf := make([]uint8, len(vol.Data))
		for i, v := range vol.Data {
			buf[i] = uint8(v)
		}
		if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
			return err
		}
	case models.Int16:
		buf := make([]int16, len(vol.Data))
		for i, v := range vol.Data {
			buf[i] = int16(v)
		}
		if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
			return err
		}
	default:
		buf := make([]uint16, len(vol.Data))
		for i, v := range vol.Data {
			buf[i] = uint16(v)
		}
		if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func readVolume(r io.Reader) (*models.Volume, error) {
	br := bufio.NewReader(r)
	var hdr volumeHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != volumeMagic {
		return nil, fmt.Errorf("bad volume file magic %#x", hdr.Magic)
	}
	pixels, err := pixelFromCode(hdr.Pixels)
	if err != nil {
		return nil, err
	}

	vol := models.NewVolume(int(hdr.Width), int(hdr.Height), int(hdr.Depth), pixels)
	n := len(vol.Data)

	switch pixels {
	case models.Int8:
		buf := make([]int8, n)
		if err := binary.Read(br, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			vol.Data[i] = float64(v)
		}
	case models.UInt8:
		buf := make([]uint8, n)
		if err := binary.Read(br, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			vol.Data[i] = float64(v)
		}
	case models.Int16:
		buf := make([]int16, n)
		if err := binary.Read(br, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			vol.Data[i] = float64(v)
		}
	default:
		buf := make([]uint16, n)
		if err := binary.Read(br, binary.LittleEndian, buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			vol.Data[i] = float64(v)
		}
	}
	return vol, nil
}
