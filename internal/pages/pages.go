// Package pages serves the minimal browser views around the admin area.
// The real back-office UI is rendered elsewhere; these exist so the gate has
// somewhere to send allowed and denied browser requests.
package pages

import (
	"html/template"
	"net/http"

	"admin-session/internal/auth"
)

var adminShell = template.Must(template.New("admin").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Admin</title></head>
<body>
<main>
<h1>Admin</h1>
<p>Signed in. Session expires {{.ExpiresAt}}.</p>
<button id="logout" type="button">Log out</button>
</main>
<script>
document.getElementById("logout").addEventListener("click", function () {
  fetch("/api/admin/auth", {method: "DELETE", credentials: "same-origin"})
    .then(function () { window.location.assign("/admin/login"); });
});
</script>
</body>
</html>
`))

var unauthorizedPage = []byte(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Unauthorized</title></head>
<body>
<main>
<h1>Unauthorized</h1>
<p>You need to sign in to view this page.</p>
<p><a href="/admin/login">Sign in</a></p>
</main>
</body>
</html>
`)

var loginPage = []byte(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Admin sign in</title></head>
<body>
<main>
<h1>Sign in</h1>
<form id="login">
<label>Username <input name="username" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
<p id="error" role="alert"></p>
</form>
</main>
<script>
document.getElementById("login").addEventListener("submit", function (event) {
  event.preventDefault();
  var form = new FormData(event.target);
  fetch("/api/admin/auth", {
    method: "POST",
    credentials: "same-origin",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({username: form.get("username"), password: form.get("password")})
  }).then(function (res) {
    return res.json().then(function (body) {
      if (res.ok) { window.location.assign(body.redirect); return; }
      document.getElementById("error").textContent = body.error;
    });
  });
});
</script>
</body>
</html>
`)

// AdminShell must run behind auth.Gate.Page.
func AdminShell(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, auth.UnauthorizedPath, http.StatusSeeOther)
		return
	}

	setHeaders(w)
	w.WriteHeader(http.StatusOK)
	_ = adminShell.Execute(w, map[string]any{
		"ExpiresAt": session.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"),
	})
}

func Login(w http.ResponseWriter, r *http.Request) {
	setHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(loginPage)
}

func Unauthorized(w http.ResponseWriter, r *http.Request) {
	setHeaders(w)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write(unauthorizedPage)
}

func setHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
}
