package index

import (
	"testing"

	"github.com/FocuswithJustin/zoostore/core/pager"
)

func TestPosition(t *testing.T) {
	tests := []struct {
		name       string
		page       pager.Pgno
		offset     uint32
		want       Position
		secondary  bool
		byteOffset int
		str        string
	}{
		{"head", 3, 100, 3<<32 | 100, false, 100, "3:100"},
		{"page start", 7, 0, 7 << 32, false, 0, "7:0"},
		{"continuation", 9, MarkSecondary, 9<<32 | 0xFFFFFFFF, true, 0, "9:secondary"},
		{"max page", 0xFFFFFFFF, 12, 0xFFFFFFFF<<32 | 12, false, 12, "4294967295:12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPosition(tt.page, tt.offset)
			if p != tt.want {
				t.Errorf("NewPosition() = %#x, want %#x", uint64(p), uint64(tt.want))
			}
			if p.Page() != tt.page || p.Offset() != tt.offset {
				t.Errorf("Page(), Offset() = %d, %d; want %d, %d", p.Page(), p.Offset(), tt.page, tt.offset)
			}
			if p.IsSecondary() != tt.secondary {
				t.Errorf("IsSecondary() = %v, want %v", p.IsSecondary(), tt.secondary)
			}
			if p.ByteOffset() != tt.byteOffset {
				t.Errorf("ByteOffset() = %d, want %d", p.ByteOffset(), tt.byteOffset)
			}
			if p.String() != tt.str {
				t.Errorf("String() = %q, want %q", p.String(), tt.str)
			}
		})
	}
}

func TestMarkSecondaryTermination(t *testing.T) {
	if Terminal|MarkSecondaryPos != MarkSecondaryPos {
		t.Error("terminal link must map to MarkSecondaryPos")
	}
	next := NewPosition(5, 0)
	if next|MarkSecondaryPos != NewPosition(5, MarkSecondary) {
		t.Error("page link must map to the continuation key of that page")
	}
}
