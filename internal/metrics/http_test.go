package metrics

import "testing"

func TestErrorClass(t *testing.T) {
	cases := map[int]string{
		200: "",
		304: "",
		400: "client_error",
		404: "client_error",
		429: "rate_limited",
		500: "server_error",
		503: "server_error",
	}
	for status, want := range cases {
		if got := ErrorClass(status); got != want {
			t.Errorf("ErrorClass(%d) = %q, want %q", status, got, want)
		}
	}
}
