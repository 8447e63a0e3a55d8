package tollgate_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/KanavDutta/tollgate"
)

func Example() {
	limiter, err := tollgate.New(
		tollgate.WithDefaults(2, 1),
		tollgate.WithFailurePolicy(tollgate.FailClosed),
	)
	if err != nil {
		panic(err)
	}
	defer limiter.Close()

	for i := 0; i < 3; i++ {
		d, _ := limiter.Allow(context.Background(), "user-123")
		fmt.Println(d.Allowed)
	}
	// Output:
	// true
	// true
	// false
}

func ExampleRateLimit() {
	limiter, _ := tollgate.New(
		tollgate.WithDefaults(1, 0.5),
		tollgate.WithFailurePolicy(tollgate.FailOpen),
	)
	defer limiter.Close()

	h := tollgate.RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		fmt.Println(w.Code, w.Header().Get("X-RateLimit-Limit"))
	}
	// Output:
	// 200 1
	// 429 1
}
