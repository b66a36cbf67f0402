package server

import "html"

// panelHTML returns the self-contained monitoring panel page. Its
// markup/CSS/JS is an external collaborator per spec.md §1 ("Out of
// scope ... the HTML/CSS/JS of the monitoring panel"); only the contract
// that it calls /metrics and /upload matters, which this minimal page
// satisfies.
func panelHTML(token string) string {
	tokenQS := ""
	if token != "" {
		tokenQS = "?token=" + html.EscapeString(token)
	}
	return `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>jobqueue panel</title></head>
<body>
<h1>jobqueue</h1>
<pre id="metrics">loading...</pre>
<form id="upload" enctype="multipart/form-data">
  <input type="file" name="pdf" required>
  <input type="text" name="output_dir" placeholder="output_dir" value="uploads">
  <input type="text" name="label" placeholder="label">
  <label><input type="checkbox" name="priority" value="1"> priority</label>
  <label><input type="checkbox" name="redact" value="1"> redact</label>
  <input type="text" name="redactions" placeholder="comma,separated,patterns">
  <button type="submit">upload</button>
</form>
<script>
const tokenQS = ` + "`" + tokenQS + "`" + `;
function refresh() {
  fetch('/metrics' + tokenQS).then(r => r.json()).then(j => {
    document.getElementById('metrics').textContent = JSON.stringify(j, null, 2);
  });
}
refresh();
setInterval(refresh, 5000);
document.getElementById('upload').addEventListener('submit', function(ev) {
  ev.preventDefault();
  fetch('/upload' + tokenQS, {method: 'POST', body: new FormData(ev.target)})
    .then(r => r.json()).then(j => { alert(JSON.stringify(j)); refresh(); });
});
</script>
</body>
</html>
`
}
