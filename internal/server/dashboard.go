package server

// dashboardHTML is the single-page dashboard served at /dashboard. It polls
// /api/status for the bucket and hard limits and follows /ws for events.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Pacer</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, "Segoe UI", Roboto, monospace; background: #0d1117; color: #c9d1d9; padding: 20px; }
  h1 { color: #58a6ff; font-size: 1.5em; }
  h2 { color: #58a6ff; font-size: 1em; margin: 20px 0 8px; }
  .bar { display: flex; gap: 24px; margin: 16px 0; padding: 12px 16px; background: #161b22; border: 1px solid #30363d; border-radius: 6px; }
  .item { display: flex; flex-direction: column; }
  .label { font-size: 0.75em; color: #8b949e; text-transform: uppercase; }
  .value { font-size: 1.1em; font-weight: 600; }
  .ok { color: #3fb950; } .bad { color: #f85149; } .warn { color: #d29922; }
  table { width: 100%; border-collapse: collapse; background: #161b22; border: 1px solid #30363d; font-size: 0.85em; }
  th, td { text-align: left; padding: 6px 12px; border-bottom: 1px solid #21262d; }
  th { color: #8b949e; font-weight: 500; }
  #events { max-height: 480px; overflow-y: auto; display: block; }
</style>
</head>
<body>
<h1>Pacer</h1>

<div class="bar">
  <div class="item"><span class="label">Connection</span><span class="value bad" id="conn">Disconnected</span></div>
  <div class="item"><span class="label">Tokens</span><span class="value" id="tokens">-</span></div>
  <div class="item"><span class="label">Refill/s</span><span class="value" id="rate">-</span></div>
  <div class="item"><span class="label">State</span><span class="value" id="state">-</span></div>
  <div class="item"><span class="label">Backoff</span><span class="value" id="backoff">-</span></div>
</div>

<h2>Hard limits</h2>
<table><thead><tr><th>Name</th><th>Period</th><th>Used</th><th>Resets in</th></tr></thead><tbody id="limits"></tbody></table>

<h2>Events</h2>
<table><thead><tr><th>Time</th><th>Kind</th><th>Tokens</th><th>Outcome</th><th>Detail</th></tr></thead><tbody id="events"></tbody></table>

<script>
const MAX_EVENTS = 200;
const secs = ns => (ns / 1e9).toFixed(1) + 's';
const esc = s => { const d = document.createElement('div'); d.textContent = s == null ? '' : String(s); return d.innerHTML; };

async function poll() {
  try {
    const st = await (await fetch('/api/status')).json();
    const b = st.bucket;
    document.getElementById('tokens').textContent = b.tokens + '/' + b.capacity;
    document.getElementById('rate').textContent = b.refill_rate;
    const state = document.getElementById('state');
    state.textContent = b.state;
    state.className = 'value ' + (b.state === 'backoff' ? 'warn' : 'ok');
    document.getElementById('backoff').textContent = secs(b.backoff_remaining);

    const rows = Object.values(st.hard_limits || {}).sort((a, b) => a.name.localeCompare(b.name));
    document.getElementById('limits').innerHTML = rows.map(l =>
      '<tr><td>' + esc(l.name) + '</td><td>' + esc(l.period) + '</td><td class="' +
      (l.remaining === 0 ? 'bad' : 'ok') + '">' + l.current + '/' + l.max + '</td><td>' + secs(l.reset_in) + '</td></tr>').join('');
  } catch (e) {}
}

function addEvent(ev) {
  const tbody = document.getElementById('events');
  const tr = document.createElement('tr');
  const cls = ev.outcome === 'granted' ? 'ok' : ev.outcome === 'exhausted' ? 'warn' : 'bad';
  let detail = '';
  if (ev.limit) detail = 'limit ' + ev.limit;
  if (ev.waited) detail = 'waited ' + secs(ev.waited);
  if (ev.backoff) detail = 'backoff ' + secs(ev.backoff);
  tr.innerHTML = '<td>' + new Date(ev.time).toLocaleTimeString() + '</td><td>' + esc(ev.kind) +
    '</td><td>' + (ev.tokens || '') + '</td><td class="' + cls + '">' + esc(ev.outcome || '') + '</td><td>' + esc(detail) + '</td>';
  tbody.insertBefore(tr, tbody.firstChild);
  while (tbody.children.length > MAX_EVENTS) tbody.removeChild(tbody.lastChild);
}

function connect() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/ws');
  const conn = document.getElementById('conn');
  ws.onopen = () => { conn.textContent = 'Connected'; conn.className = 'value ok'; };
  ws.onclose = () => { conn.textContent = 'Disconnected'; conn.className = 'value bad'; setTimeout(connect, 2000); };
  ws.onmessage = e => { addEvent(JSON.parse(e.data)); poll(); };
}

connect();
poll();
setInterval(poll, 1000);
</script>
</body>
</html>`
