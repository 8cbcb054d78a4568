package server

import (
	"html/template"
	"net/http"
	"net/url"

	"github.com/authserve/go-oauth2-server/oauth2"
	"github.com/authserve/go-oauth2-server/principal"
)

var loginPageTmpl = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
  <h1>Sign in</h1>
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <form method="POST" action="/login">
    <input type="hidden" name="request_id" value="{{.RequestID}}">
    <label>Username <input type="text" name="username" autocomplete="username"></label>
    <label>Password <input type="password" name="password" autocomplete="current-password"></label>
    <button type="submit">Sign in</button>
  </form>
</body>
</html>`))

var consentPageTmpl = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorize application</title></head>
<body>
  <h1>Authorize {{if .ClientName}}{{.ClientName}}{{else}}application{{end}}</h1>
  <p>The application is requesting the following scopes:</p>
  <ul>
    {{range .Scopes}}<li>{{.}}</li>{{end}}
  </ul>
  <form method="POST" action="/consent">
    <input type="hidden" name="request_id" value="{{.RequestID}}">
    <button type="submit" name="action" value="approve">Allow</button>
    <button type="submit" name="action" value="deny">Deny</button>
  </form>
</body>
</html>`))

type loginPageData struct {
	RequestID string
	Error     string
}

type consentPageData struct {
	RequestID  string
	ClientName string
	Scopes     []string
}

// LoginPageHandler renders the sign-in form for a pending grant.
func (s *Server) LoginPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.URL.Query().Get("request_id")
		if requestID == "" {
			http.Error(w, "missing request_id", http.StatusBadRequest)
			return
		}
		s.renderLoginPage(w, http.StatusOK, loginPageData{RequestID: requestID})
	}
}

// LoginSubmissionHandler authenticates the resource owner and either
// moves on to consent or, for clients that skip it, issues the code
// straight away.
func (s *Server) LoginSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}
		requestID := r.PostFormValue("request_id")
		if requestID == "" {
			http.Error(w, "missing request_id", http.StatusBadRequest)
			return
		}

		creds := principal.Credentials{
			Username: r.PostFormValue("username"),
			Password: r.PostFormValue("password"),
		}
		auth, client, err := s.grants.Login(r.Context(), requestID, creds)
		if err != nil {
			// Failed authentication re-renders the form; the grant stays
			// pending so the user can try again.
			s.renderLoginPage(w, http.StatusUnauthorized, loginPageData{
				RequestID: requestID,
				Error:     "Invalid username or password",
			})
			return
		}

		if client.RequireConsent {
			consentURL := RouteConsent + "?request_id=" + url.QueryEscape(auth.ID) +
				"&scope=" + url.QueryEscape(auth.Scope) +
				"&client_name=" + url.QueryEscape(client.Name)
			http.Redirect(w, r, consentURL, http.StatusSeeOther)
			return
		}

		// Consent not required: approve on the user's behalf.
		code, granted, err := s.grants.Consent(r.Context(), requestID, true)
		if err != nil {
			s.writeOAuthError(w, r, err)
			return
		}
		s.redirectCode(w, r, granted.RedirectURI, granted.ResponseMode, code, granted.ClientState)
	}
}

// ConsentPageHandler renders the approve/deny form.
func (s *Server) ConsentPageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.URL.Query().Get("request_id")
		if requestID == "" {
			http.Error(w, "missing request_id", http.StatusBadRequest)
			return
		}
		data := consentPageData{
			RequestID:  requestID,
			ClientName: r.URL.Query().Get("client_name"),
			Scopes:     oauth2.SplitScopes(r.URL.Query().Get("scope")),
		}
		w.Header().Set("Content-Type", contentTypeHTML)
		_ = consentPageTmpl.Execute(w, data)
	}
}

// ConsentSubmissionHandler records the user's decision. Approval sends
// the code to the client; denial reports access_denied to the client's
// redirect URI.
func (s *Server) ConsentSubmissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}
		requestID := r.PostFormValue("request_id")
		if requestID == "" {
			http.Error(w, "missing request_id", http.StatusBadRequest)
			return
		}
		approved := r.PostFormValue("action") == "approve"

		code, auth, err := s.grants.Consent(r.Context(), requestID, approved)
		if err != nil {
			s.writeOAuthError(w, r, err)
			return
		}
		s.redirectCode(w, r, auth.RedirectURI, auth.ResponseMode, code, auth.ClientState)
	}
}

func (s *Server) renderLoginPage(w http.ResponseWriter, status int, data loginPageData) {
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(status)
	_ = loginPageTmpl.Execute(w, data)
}
