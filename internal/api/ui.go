package api

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var uiTemplates = template.Must(template.New("ui").Parse(`{{define "head"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Quiltmaker{{if .Job}} · {{.Job.ID}}{{end}}</title>
  {{if .Refresh}}<meta http-equiv="refresh" content="2"/>{{end}}
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:960px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .grid{display:grid;grid-template-columns:1fr 1fr 1fr;gap:12px}
    .btn{background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    input,select,textarea{padding:8px;border:1px solid #dcdcdc;border-radius:8px;width:100%;box-sizing:border-box}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .error{border-color:#f2b8b5;background:#fff6f6}
    table{width:100%;border-collapse:collapse}
    td,th{text-align:left;padding:6px;border-bottom:1px solid #eee}
    .thumbs img{margin:4px;border:1px solid #ddd}
  </style>
</head>
<body>
  <header><h1><a href="/">Quiltmaker</a></h1><div class="muted">Quilt images for light-field displays</div></header>
  {{if .Error}}<div class="card error"><strong>Error:</strong> {{.Error}}</div>{{end}}
{{end}}

{{define "foot"}}
  <footer class="muted">API base: <span class="mono">/api/v1</span></footer>
</body>
</html>
{{end}}

{{define "home"}}
  {{template "head" .}}
  <div class="card">
    <h2>New job</h2>
    <form method="post" action="/ui/jobs">
      <label>Source folders, one per line (leave empty to use the sorted folder as is)</label>
      <textarea name="folders" rows="3" class="mono"></textarea>
      <div class="grid">
        <div><label>Sorted folder</label><input name="sorted_folder" required/></div>
        <div><label>Output folder</label><input name="output_folder" required/></div>
        <div><label>Total views</label><input name="views" type="number" min="0" value="0"/></div>
        <div><label>Display</label>
          <select name="display">
            <option value="">custom grid</option>
            {{range .Displays}}<option value="{{.Name}}">{{.Name}} ({{.Columns}}x{{.Rows}})</option>{{end}}
          </select>
        </div>
        <div><label>Columns</label><input name="columns" type="number" min="1"/></div>
        <div><label>Rows</label><input name="rows" type="number" min="1"/></div>
        <div><label>Framerate (0 = no animation)</label><input name="framerate" type="number" min="0" value="{{.Framerate}}"/></div>
        <div><label>Collision</label>
          <select name="collision"><option>overwrite</option><option>reject</option></select>
        </div>
        <div><label><input type="checkbox" name="archive" value="true" style="width:auto"/> zip quilts</label></div>
      </div>
      <p><button class="btn" type="submit">Start</button></p>
    </form>
  </div>
  <div class="card">
    <h2>Jobs</h2>
    {{if .Jobs}}
    <table>
      <tr><th>ID</th><th>Status</th><th>Output</th><th>Created</th></tr>
      {{range .Jobs}}
      <tr>
        <td class="mono"><a href="/ui/jobs/{{.ID}}">{{.ID}}</a></td>
        <td><span class="status">{{.Status}}</span></td>
        <td class="mono">{{.Request.OutputFolder}}</td>
        <td class="muted">{{.CreatedAt.Format "2006-01-02 15:04:05"}}</td>
      </tr>
      {{end}}
    </table>
    {{else}}<div class="muted">No jobs yet</div>{{end}}
  </div>
  {{template "foot" .}}
{{end}}

{{define "job"}}
  {{template "head" .}}
  <div class="card">
    <h2>Job <span class="mono">{{.Job.ID}}</span></h2>
    <div>Status: <span class="status">{{.Job.Status}}</span></div>
    {{with .Job.Progress}}<div>Quilts: {{.Index}} / {{.Amount}} <span class="muted">({{.Status}})</span></div>{{end}}
    {{if .Job.Error}}<div class="muted">Reason: {{.Job.Error}}</div>{{end}}
    <div class="muted">Grid {{.Job.Request.Columns}}x{{.Job.Request.Rows}} · output <span class="mono">{{.Job.Request.OutputFolder}}</span></div>
    <div class="muted">Live events: <a class="mono" href="/api/v1/jobs/{{.Job.ID}}/events">/api/v1/jobs/{{.Job.ID}}/events</a></div>
  </div>
  {{with .Job.Result}}
  <div class="card">
    <h3>Quilts</h3>
    <div class="thumbs">
      {{range $i, $q := .Compose.Quilts}}<a href="/api/v1/jobs/{{$.Job.ID}}/quilts/{{$i}}/preview?width=1024"><img src="/api/v1/jobs/{{$.Job.ID}}/quilts/{{$i}}/preview?width=160" alt="{{$q}}"/></a>{{end}}
    </div>
    {{if .Compose.Unused}}<div class="muted">{{len .Compose.Unused}} trailing frames did not fill a quilt</div>{{end}}
    {{if .Compose.Invalid}}<div class="muted">{{len .Compose.Invalid}} files without a view index were ignored</div>{{end}}
    {{if .Archive}}<p><a class="btn" href="/api/v1/jobs/{{$.Job.ID}}/archive">Download zip</a></p>{{end}}
    {{if .Animation}}<div>Animation: <span class="mono">{{.Animation}}</span></div>{{end}}
  </div>
  {{end}}
  {{template "foot" .}}
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/jobs", a.UICreateJob)
	router.GET("/ui/jobs/:id", a.UIJob)
}

// UIHome renders the job form and the job list
func (a *API) UIHome(c *gin.Context) { a.renderHome(c, http.StatusOK, "") }

func (a *API) renderHome(c *gin.Context, status int, errMsg string) {
	c.HTML(status, "home", gin.H{
		"Jobs":      a.jobs.List(),
		"Displays":  a.cfg.Displays,
		"Framerate": a.cfg.DefaultFramerate,
		"Error":     errMsg,
	})
}

// UICreateJob starts a job from the form and redirects to its page
func (a *API) UICreateJob(c *gin.Context) {
	if a.jobs.IsBusy() {
		a.renderHome(c, http.StatusServiceUnavailable, "server busy: try again later")
		return
	}
	body := createJobRequest{
		Folders:      strings.Split(c.PostForm("folders"), "\n"),
		SortedFolder: c.PostForm("sorted_folder"),
		OutputFolder: c.PostForm("output_folder"),
		Display:      c.PostForm("display"),
		Collision:    c.PostForm("collision"),
		Archive:      c.PostForm("archive") == "true",
	}
	body.Views = formInt(c, "views")
	body.Columns = formInt(c, "columns")
	body.Rows = formInt(c, "rows")
	if raw := strings.TrimSpace(c.PostForm("framerate")); raw != "" {
		fr, err := strconv.Atoi(raw)
		if err != nil {
			a.renderHome(c, http.StatusBadRequest, "framerate must be a number")
			return
		}
		body.Framerate = &fr
	}

	created, status, err := a.submit(body)
	if err != nil {
		a.renderHome(c, status, err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/ui/jobs/"+created.ID)
}

// UIJob renders a job page; it refreshes itself until the job is done
func (a *API) UIJob(c *gin.Context) {
	if j, ok := a.jobs.GetJob(c.Param("id")); ok {
		c.HTML(http.StatusOK, "job", gin.H{"Job": j, "Refresh": !j.Done()})
		return
	}
	a.renderHome(c, http.StatusNotFound, "job not found")
}

func formInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(c.PostForm(key)))
	if err != nil {
		return 0
	}
	return n
}
