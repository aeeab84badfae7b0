package httpmw

import "net/http"

// MaxBody caps request bodies at n bytes. A declared Content-Length over the
// cap is refused with 413 before the handler runs; undeclared bodies fail on
// read once they cross it. n <= 0 disables the cap.
func MaxBody(n int64) Middleware {
	if n <= 0 {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > n {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
