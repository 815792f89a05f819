package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Attendance Sync</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --danger: #c2483f;
      --muted: #6f7d7d;
      --shadow: 0 18px 36px rgba(16, 34, 35, 0.16);
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: "Space Grotesk", "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: linear-gradient(140deg, #fff9ef 0%, #f1f8f7 45%, #fffdf9 100%);
      min-height: 100vh;
      padding: 20px;
    }
    .shell { max-width: 1100px; margin: 0 auto; display: grid; gap: 14px; }
    .bar, .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 18px;
      padding: 16px;
      box-shadow: var(--shadow);
    }
    .bar { display: flex; justify-content: space-between; align-items: center; gap: 12px; flex-wrap: wrap; }
    h1 { margin: 0; font-size: clamp(1.2rem, 2vw, 1.75rem); }
    h2 { margin: 0 0 10px; font-size: 1.05rem; }
    .pill { border-radius: 999px; padding: 4px 12px; font-size: 0.85rem; border: 1px solid var(--line); }
    .pill.ok { color: var(--accent); border-color: var(--accent); }
    .pill.bad { color: var(--danger); border-color: var(--danger); }
    .grid { display: grid; grid-template-columns: 320px 1fr; gap: 14px; }
    @media (max-width: 820px) { .grid { grid-template-columns: 1fr; } }
    input, button {
      font: inherit;
      border-radius: 10px;
      border: 1px solid var(--line);
      padding: 8px 12px;
    }
    button { background: var(--accent); color: #fff; border: none; cursor: pointer; }
    button.ghost { background: transparent; color: var(--ink); border: 1px solid var(--line); }
    button.danger { background: var(--danger); }
    .row { display: flex; gap: 8px; flex-wrap: wrap; margin-bottom: 8px; }
    table { width: 100%; border-collapse: collapse; font-size: 0.92rem; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    .muted { color: var(--muted); }
    img.qr { width: 100%; max-width: 280px; border-radius: 12px; border: 1px solid var(--line); }
    .hidden { display: none; }
  </style>
</head>
<body>
  <div class="shell">
    <div class="bar">
      <h1>Attendance Sync</h1>
      <span id="status" class="pill">connecting</span>
    </div>

    <div id="student" class="card hidden">
      <h2>Check in to <span id="studentSession"></span></h2>
      <div class="row">
        <input id="studentName" placeholder="Full name" />
        <input id="studentId" placeholder="Student ID" />
        <button id="checkIn">Check in</button>
      </div>
      <p id="studentMessage" class="muted"></p>
    </div>

    <div id="login" class="card hidden">
      <h2>Administrator</h2>
      <div class="row">
        <input id="password" type="password" placeholder="Password" />
        <button id="loginButton">Sign in</button>
      </div>
      <p id="loginMessage" class="muted"></p>
    </div>

    <div id="admin" class="grid hidden">
      <div class="card">
        <h2>Session</h2>
        <p id="sessionName" class="muted">No active session</p>
        <img id="qr" class="qr hidden" alt="student check-in QR code" />
        <div class="row">
          <input id="newSession" placeholder="Session name" />
          <button id="startSession">Start</button>
        </div>
        <div class="row">
          <button id="endSession" class="ghost">End session</button>
          <button id="export" class="ghost">Export CSV</button>
          <button id="logout" class="ghost">Sign out</button>
        </div>
      </div>
      <div class="card">
        <h2>Records <span id="count" class="muted"></span></h2>
        <table>
          <thead><tr><th>Student</th><th>ID</th><th>Session</th><th>Day</th><th>Time</th><th></th></tr></thead>
          <tbody id="records"></tbody>
        </table>
      </div>
    </div>
  </div>

  <script>
    (function () {
      const POLL_MS = 3000;
      const params = new URLSearchParams(window.location.search);
      const studentSession = params.get("sessionID")
        ? { id: params.get("sessionID"), name: params.get("sessionName") || "" }
        : null;
      const $ = (id) => document.getElementById(id);
      let db = { activeSession: null, records: [] };
      let token = window.localStorage.getItem("attendsync_admin_token") || "";

      function setStatus(online) {
        $("status").textContent = online ? "online" : "offline";
        $("status").className = "pill " + (online ? "ok" : "bad");
      }

      function headers() {
        const out = { "Content-Type": "application/json" };
        if (token) out["Authorization"] = "Bearer " + token;
        return out;
      }

      async function post(action, payload) {
        const res = await fetch("/api/sync", { method: "POST", headers: headers(), body: JSON.stringify({ action, payload }) });
        if (!res.ok) throw new Error((await res.json()).message || res.statusText);
        db = await res.json();
        render();
      }

      async function poll() {
        try {
          const res = await fetch("/api/sync", { cache: "no-store" });
          if (!res.ok) throw new Error(res.statusText);
          db = await res.json();
          setStatus(true);
          render();
        } catch (err) {
          setStatus(false);
        }
      }

      function render() {
        if (studentSession) {
          $("student").classList.remove("hidden");
          $("studentSession").textContent = studentSession.name;
          return;
        }
        $("login").classList.toggle("hidden", !!token);
        $("admin").classList.toggle("hidden", !token);
        if (!token) return;

        const session = db.activeSession;
        $("sessionName").textContent = session ? session.name : "No active session";
        $("qr").classList.toggle("hidden", !session);
        if (session && $("qr").dataset.session !== session.id) {
          $("qr").src = "/api/session/qr.png?size=512&session=" + encodeURIComponent(session.id);
          $("qr").dataset.session = session.id;
        }
        $("count").textContent = "(" + db.records.length + ")";
        const body = $("records");
        body.innerHTML = "";
        for (const record of db.records) {
          const row = document.createElement("tr");
          const time = new Date(record.timestamp).toLocaleTimeString([], { hour: "2-digit", minute: "2-digit" });
          for (const value of [record.studentName, record.studentId, record.sessionName, record.day, time]) {
            const cell = document.createElement("td");
            cell.textContent = value;
            row.appendChild(cell);
          }
          const action = document.createElement("td");
          const remove = document.createElement("button");
          remove.className = "danger";
          remove.textContent = "Delete";
          remove.addEventListener("click", () => post("DELETE_RECORD", record.id).catch(alert));
          action.appendChild(remove);
          row.appendChild(action);
          body.appendChild(row);
        }
      }

      $("checkIn").addEventListener("click", async () => {
        const name = $("studentName").value.trim();
        const id = $("studentId").value.trim();
        if (!name || !id) return;
        if (db.records.some((r) => r.studentId === id && r.sessionId === studentSession.id)) {
          $("studentMessage").textContent = "You have already marked your attendance for this session.";
          return;
        }
        const record = {
          id: (window.crypto && crypto.randomUUID) ? crypto.randomUUID() : Math.random().toString(36).substring(7),
          studentName: name,
          studentId: id,
          timestamp: new Date().toISOString(),
          day: new Intl.DateTimeFormat("en-US", { weekday: "long" }).format(new Date()),
          sessionId: studentSession.id,
          sessionName: studentSession.name,
        };
        try {
          await post("ADD_RECORD", record);
          $("studentMessage").textContent = "Checked in. You can close this page.";
          $("checkIn").disabled = true;
        } catch (err) {
          $("studentMessage").textContent = "Network error. Could not register.";
        }
      });

      $("loginButton").addEventListener("click", async () => {
        const res = await fetch("/api/admin/login", { method: "POST", headers: headers(), body: JSON.stringify({ password: $("password").value }) });
        if (!res.ok) {
          $("loginMessage").textContent = "Invalid Password";
          return;
        }
        token = (await res.json()).token;
        window.localStorage.setItem("attendsync_admin_token", token);
        render();
      });

      $("logout").addEventListener("click", () => {
        token = "";
        window.localStorage.removeItem("attendsync_admin_token");
        render();
      });

      $("startSession").addEventListener("click", () => {
        const name = $("newSession").value.trim();
        if (!name) return;
        post("SET_SESSION", { id: "session_" + Date.now(), name }).catch(alert);
        $("newSession").value = "";
      });

      $("endSession").addEventListener("click", () => post("CLEAR_SESSION").catch(alert));

      $("export").addEventListener("click", async () => {
        const res = await fetch("/api/records/export.csv", { headers: headers() });
        if (!res.ok) return alert("Export failed");
        const link = document.createElement("a");
        link.href = URL.createObjectURL(await res.blob());
        link.download = "attendance_logs_weekly.csv";
        link.click();
      });

      render();
      poll();
      window.setInterval(poll, POLL_MS);
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, correlationID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
