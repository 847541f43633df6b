package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/files/01ABC":                 "/v1/files/:id",
		"/v1/files/01ABC/content":         "/v1/files/:id/content",
		"/v1/files/01ABC/grants":          "/v1/files/:id/grants",
		"/v1/files/01ABC/extra":           "/v1/files/01ABC/extra",
		"/v1/audit/records":               "/v1/audit/records",
		"/v1/audit/records?from=0&to=10":  "/v1/audit/records",
		"/v1/auth/login":                  "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
