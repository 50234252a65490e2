package domain

import "testing"

func TestWatermarkNeverMovesBackwards(t *testing.T) {
	w := Watermark{LastPID: 100, LastTID: 7}

	w = w.AdvancePost(99).AdvanceThread(3)
	if w.LastPID != 100 || w.LastTID != 7 {
		t.Fatalf("watermark regressed: %+v", w)
	}

	w = w.AdvancePost(101).AdvanceThread(9)
	if w.LastPID != 101 || w.LastTID != 9 {
		t.Fatalf("watermark did not advance: %+v", w)
	}

	merged := Watermark{LastPID: 5, LastTID: 50}.Merge(w)
	if merged.LastPID != 101 || merged.LastTID != 50 {
		t.Fatalf("unexpected merge result %+v", merged)
	}
}

func TestRehostedImageRehosted(t *testing.T) {
	cases := []struct {
		name string
		img  RehostedImage
		want bool
	}{
		{"fallback", RehostedImage{SourceURL: "a", HostedURL: "a"}, false},
		{"link", RehostedImage{SourceURL: "a", HostedURL: "b"}, true},
		{"asset", RehostedImage{SourceURL: "a", HostedURL: "a", AssetKey: "img_v2"}, true},
	}
	for _, tc := range cases {
		if got := tc.img.Rehosted(); got != tc.want {
			t.Errorf("%s: Rehosted() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
