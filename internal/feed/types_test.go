package feed

import "testing"

func TestIsPublic_RecursesThroughNesting(t *testing.T) {
	public := Author{Handle: "pub"}
	restricted := Author{Handle: "priv", Protected: true}

	tests := []struct {
		name string
		item Item
		want bool
	}{
		{"plain public", Item{Author: public}, true},
		{"own author restricted", Item{Author: restricted}, false},
		{"retweet of restricted", Item{Author: public, Retweeted: &Item{Author: restricted}}, false},
		{"quote of restricted", Item{Author: public, Quoted: &Item{Author: restricted}}, false},
		{
			"retweet of quote of restricted",
			Item{Author: public, Retweeted: &Item{Author: public, Quoted: &Item{Author: restricted}}},
			false,
		},
		{
			"all public chain",
			Item{Author: public, Retweeted: &Item{Author: public, Quoted: &Item{Author: public}}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.IsPublic(); got != tt.want {
				t.Errorf("IsPublic() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBestVariant(t *testing.T) {
	tests := []struct {
		name     string
		variants []VideoVariant
		wantURL  string
		wantOK   bool
	}{
		{"no variants", nil, "", false},
		{
			"highest bitrate wins",
			[]VideoVariant{
				{Bitrate: 320, URL: "low"},
				{Bitrate: 2176, URL: "high"},
				{Bitrate: 832, URL: "mid"},
			},
			"high", true,
		},
		{
			"no declared bitrate falls back to source order",
			[]VideoVariant{
				{URL: "first"},
				{URL: "second"},
			},
			"first", true,
		},
		{
			"tie keeps earliest",
			[]VideoVariant{
				{Bitrate: 832, URL: "first"},
				{Bitrate: 832, URL: "second"},
			},
			"first", true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MediaEntity{Type: MediaVideo, Variants: tt.variants}
			v, ok := m.BestVariant()
			if ok != tt.wantOK || (ok && v.URL != tt.wantURL) {
				t.Errorf("BestVariant() = (%+v, %v), want (%q, %v)", v, ok, tt.wantURL, tt.wantOK)
			}
		})
	}
}

func TestStatusID(t *testing.T) {
	tests := []struct {
		url    string
		wantID string
		wantOK bool
	}{
		{"https://twitter.com/alice/status/12345", "12345", true},
		{"https://x.com/alice/status/12345", "12345", true},
		{"https://twitter.com/renamed_alice/status/12345?s=20", "12345", true},
		{"https://twitter.com/alice/statuses/12345", "12345", true},
		{"https://example.com/alice/status/12345", "", false},
		{"https://twitter.com/alice", "", false},
		{"not a url", "", false},
	}
	for _, tt := range tests {
		id, ok := StatusID(tt.url)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("StatusID(%q) = (%q, %v), want (%q, %v)", tt.url, id, ok, tt.wantID, tt.wantOK)
		}
	}
}
