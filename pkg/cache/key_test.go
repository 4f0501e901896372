package cache

import (
	"net/url"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "endpoint no params",
			key: CacheKey{
				Endpoint: "/responses",
			},
			want: "fairing:page:responses",
		},
		{
			name: "older page",
			key: CacheKey{
				Endpoint: "/responses",
				QueryParams: url.Values{
					"after": []string{"1042"},
				},
			},
			want: "fairing:page:responses:after=1042",
		},
		{
			name: "multiple query params (sorted)",
			key: CacheKey{
				Endpoint: "/responses/",
				QueryParams: url.Values{
					"limit":  []string{"100"},
					"before": []string{"77"},
				},
			},
			want: "fairing:page:responses:before=77:limit=100",
		},
		{
			name: "empty endpoint",
			key: CacheKey{
				QueryParams: url.Values{"limit": []string{"3"}},
			},
			want: "fairing:page:limit=3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.key.String()
			if got != tt.want {
				t.Errorf("CacheKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCacheKey_Determinism ensures same input always produces same key
func TestCacheKey_Determinism(t *testing.T) {
	key := CacheKey{
		Endpoint: "/responses",
		QueryParams: url.Values{
			"after": []string{"9"},
			"limit": []string{"100"},
			"until": []string{"2023-03-01T12:00:00.000000Z"},
		},
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if result := key.String(); result != first {
			t.Errorf("result[%d] = %v, want %v (not deterministic)", i, result, first)
		}
	}
}
