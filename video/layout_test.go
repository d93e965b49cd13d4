package video

import "testing"

func TestNewLayout(t *testing.T) {
	tests := []struct {
		name       string
		format     PixelFormat
		width      uint32
		height     uint32
		align      Alignment
		wantErr    bool
		wantStride uint32
		wantSize   uint64
	}{
		{
			name:       "1080p BGRx",
			format:     FormatBGRx,
			width:      1920,
			height:     1080,
			wantStride: 1920 * 4,
			wantSize:   1920 * 4 * 1080,
		},
		{
			name:       "VGA no alignment",
			format:     FormatBGRA,
			width:      640,
			height:     480,
			wantStride: 2560,
			wantSize:   2560 * 480,
		},
		{
			name:       "odd width aligned to 256",
			format:     FormatRGBA,
			width:      1366,
			height:     768,
			align:      Alignment{StrideAlign: 256},
			wantStride: 5632, // 1366*4 = 5464 rounded up
			wantSize:   5632 * 768,
		},
		{
			name:    "unsupported format",
			format:  FormatUnknown,
			width:   640,
			height:  480,
			wantErr: true,
		},
		{
			name:    "zero width",
			format:  FormatBGRA,
			width:   0,
			height:  480,
			wantErr: true,
		},
		{
			name:    "non power of two alignment",
			format:  FormatBGRA,
			width:   640,
			height:  480,
			align:   Alignment{StrideAlign: 48},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLayout(tt.format, tt.width, tt.height, tt.align)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLayout: %v", err)
			}
			if l.Stride[0] != tt.wantStride {
				t.Errorf("stride = %d, want %d", l.Stride[0], tt.wantStride)
			}
			if l.Offset[0] != 0 {
				t.Errorf("offset = %d, want 0", l.Offset[0])
			}
			if l.Size != tt.wantSize {
				t.Errorf("size = %d, want %d", l.Size, tt.wantSize)
			}
		})
	}
}

// TestNewLayout_Pure verifies the layout is a pure function of its inputs.
func TestNewLayout_Pure(t *testing.T) {
	a, err := NewLayout(FormatRGBA, 1920, 1080, Alignment{StrideAlign: 64})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewLayout(FormatRGBA, 1920, 1080, Alignment{StrideAlign: 64})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("identical inputs produced different layouts:\n%+v\n%+v", a, b)
	}
}
