package loader

import (
	"testing"

	"github.com/fynite/microasm/image"
)

func TestFromImageSeedsCodeDataAndLabels(t *testing.T) {
	img := &image.Image{
		Version:    image.MaxVersion,
		EntryPoint: 0,
		Code:       []byte{0x01, 0x02, 0x03},
		Data: []image.DataRecord{
			{Addr: 100, Data: []byte("hi")},
		},
		Debug: []image.DebugRecord{
			{Label: "start", Addr: 0},
		},
	}

	v, err := FromImage(img, 4096, 2048, 1024, nil)
	if err != nil {
		t.Fatalf("FromImage: %v", err)
	}
	if len(v.Code) != 3 {
		t.Errorf("VM code length = %d, want 3", len(v.Code))
	}
	got, err := v.Mem.ReadBytes(100, 2)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != "hi" {
		t.Errorf("data segment at 100 = %q, want %q", got, "hi")
	}
	if v.Labels["start"] != 0 {
		t.Errorf("label 'start' = %d, want 0", v.Labels["start"])
	}
}

func TestLoadFileDecodesAndLoads(t *testing.T) {
	img := &image.Image{
		Version:    1,
		EntryPoint: 0,
		Code:       []byte{0xAA},
	}
	raw := image.Encode(img)

	v, decoded, err := LoadFile(raw, 4096, 2048, 1024, []string{"argv0"})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(decoded.Code) != 1 || decoded.Code[0] != 0xAA {
		t.Errorf("decoded code = %v, want [0xAA]", decoded.Code)
	}
	if len(v.Args) != 1 || v.Args[0] != "argv0" {
		t.Errorf("VM args = %v, want [argv0]", v.Args)
	}
}

func TestLoadFileRejectsBadMagic(t *testing.T) {
	if _, _, err := LoadFile([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 4096, 2048, 1024, nil); err == nil {
		t.Fatal("expected a decode error for garbage input")
	}
}
