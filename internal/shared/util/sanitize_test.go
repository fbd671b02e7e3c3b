package util

import "testing"

func TestSanitizeMapImageName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain ascii", input: "map.png", want: "map.png"},
		{name: "vietnamese diacritics", input: "bản đồ quy hoạch.png", want: "ban_do_quy_hoach.png"},
		{name: "spaces and symbols", input: "soil map (v2).jpg", want: "soil_map__v2_.jpg"},
		{name: "uppercase dj", input: "Đất.png", want: "Dat.png"},
		{name: "empty", input: "", want: "image"},
		{name: "only symbols", input: "###", want: "image"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeMapImageName(tt.input); got != tt.want {
				t.Fatalf("SanitizeMapImageName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
