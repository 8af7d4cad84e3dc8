package main

import (
	"io"
	"net/http"

	"github.com/valyala/quicktemplate"
)

// writeIndex renders the demo page. The script requests exactly the event
// data the server announced in its listen message.
func writeIndex(w io.Writer, title, wsPath string) {
	qw := quicktemplate.AcquireWriter(w)
	defer quicktemplate.ReleaseWriter(qw)

	qw.N().S(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>`)
	qw.E().S(title)
	qw.N().S(`</title></head>
<body>
<h1>`)
	qw.E().S(title)
	qw.N().S(`</h1>
<button id="counter">0</button>
<p>ticks: <span id="ticks">0</span> <small id="origin"></small></p>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "`)
	qw.N().J(wsPath)
	qw.N().S(`");
const button = document.getElementById("counter");
let eventData = [];
function collect(event) {
  const data = {};
  for (const expr of eventData) {
    data[expr] = new Function("event", "return " + expr)(event);
  }
  return data;
}
function send(event) {
  event.preventDefault();
  ws.send(JSON.stringify({type: event.type, data: collect(event)}));
}
ws.onmessage = (msg) => {
  const m = JSON.parse(msg.data);
  if (m.type === "listen") {
    eventData = m.eventData;
    button.addEventListener(m.event, send);
    button.addEventListener("contextmenu", (e) => {
      e.preventDefault();
      ws.send(JSON.stringify({type: m.event, data: Object.assign(collect(e), {"event.button": 2})}));
    });
  } else if (m.type === "render") {
    button.textContent = m.count;
    document.getElementById("ticks").textContent = m.ticks;
    document.getElementById("origin").textContent = m.initial ? "initial" : (m.background ? "background" : "request");
  }
};
</script>
</body>
</html>
`)
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	writeIndex(w, "Flow signals demo", "/ws")
}
