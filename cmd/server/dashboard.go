package main

import (
	"net/http"
)

// dashboardHandler serves a page that polls /v1/metrics and /v1/classes.
func dashboardHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Tollgate Dashboard</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            min-height: 100vh;
            padding: 20px;
        }
        .container {
            max-width: 1200px;
            margin: 0 auto;
        }
        .header {
            text-align: center;
            color: white;
            margin-bottom: 30px;
        }
        .header h1 {
            font-size: 2.5em;
            margin-bottom: 10px;
        }
        .header p {
            opacity: 0.9;
            font-size: 1.1em;
        }
        .stats-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 30px;
        }
        .stat-card {
            background: white;
            border-radius: 12px;
            padding: 25px;
            box-shadow: 0 4px 6px rgba(0,0,0,0.1);
            transition: transform 0.2s;
        }
        .stat-card:hover {
            transform: translateY(-5px);
        }
        .stat-label {
            color: #666;
            font-size: 0.9em;
            text-transform: uppercase;
            letter-spacing: 1px;
            margin-bottom: 10px;
        }
        .stat-value {
            font-size: 2.5em;
            font-weight: bold;
            color: #333;
        }
        .stat-value.success { color: #10b981; }
        .stat-value.danger { color: #ef4444; }
        .stat-value.info { color: #3b82f6; }
        .stat-value.warning { color: #f59e0b; }
        .stat-sublabel {
            margin-top: 8px;
            font-size: 0.9em;
            color: #666;
            font-weight: normal;
        }
        .table-card {
            background: white;
            border-radius: 12px;
            padding: 25px;
            box-shadow: 0 4px 6px rgba(0,0,0,0.1);
        }
        .table-card h2 {
            margin-bottom: 20px;
            color: #333;
        }
        table {
            width: 100%;
            border-collapse: collapse;
        }
        th {
            text-align: left;
            padding: 12px;
            background: #f3f4f6;
            color: #666;
            font-weight: 600;
            text-transform: uppercase;
            font-size: 0.85em;
            letter-spacing: 0.5px;
        }
        td {
            padding: 12px;
            border-bottom: 1px solid #e5e7eb;
        }
        tr:last-child td {
            border-bottom: none;
        }
        .badge {
            display: inline-block;
            padding: 4px 12px;
            border-radius: 12px;
            font-size: 0.85em;
            font-weight: 600;
        }
        .badge.success {
            background: #d1fae5;
            color: #065f46;
        }
        .badge.danger {
            background: #fee2e2;
            color: #991b1b;
        }
        .refresh-indicator {
            position: fixed;
            top: 20px;
            right: 20px;
            background: white;
            padding: 10px 20px;
            border-radius: 20px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
            font-size: 0.9em;
            color: #666;
        }
        .refresh-indicator.active {
            background: #10b981;
            color: white;
        }
        @keyframes pulse {
            0%, 100% { opacity: 1; }
            50% { opacity: 0.5; }
        }
        .loading {
            animation: pulse 1.5s ease-in-out infinite;
        }
    </style>
</head>
<body>
    <div class="refresh-indicator" id="refreshIndicator">
        Auto-refresh: <span id="countdown">2</span>s
    </div>

    <div class="container">
        <div class="header">
            <h1>Tollgate</h1>
            <p>Admission control by key class</p>
        </div>

        <div class="stats-grid">
            <div class="stat-card">
                <div class="stat-label">Total Requests</div>
                <div class="stat-value info" id="totalRequests">0</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Allowed</div>
                <div class="stat-value success" id="allowedRequests">0</div>
                <div class="stat-sublabel" id="successRate">0% success rate</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Rejected</div>
                <div class="stat-value danger" id="rejectedRequests">0</div>
                <div class="stat-sublabel" id="rejectRate">0% reject rate</div>
            </div>
            <div class="stat-card">
                <div class="stat-label">Degraded</div>
                <div class="stat-value warning" id="degradedRequests">0</div>
                <div class="stat-sublabel">decided by failure policy</div>
            </div>
        </div>

        <div class="table-card">
            <h2>Classes</h2>
            <table>
                <thead>
                    <tr>
                        <th>Class</th>
                        <th>Capacity</th>
                        <th>Refill/s</th>
                        <th>Total</th>
                        <th>Allowed</th>
                        <th>Rejected</th>
                        <th>Last Seen</th>
                    </tr>
                </thead>
                <tbody id="classesTable">
                    <tr>
                        <td colspan="7" style="text-align: center; color: #999;">
                            Loading...
                        </td>
                    </tr>
                </tbody>
            </table>
        </div>
    </div>

    <script>
        let countdown = 2;
        let countdownInterval;

        async function fetchMetrics() {
            try {
                const [metrics, classes] = await Promise.all([
                    fetch('/v1/metrics').then(r => r.json()),
                    fetch('/v1/classes').then(r => r.json()),
                ]);
                updateDashboard(metrics, classes);
            } catch (error) {
                console.error('Failed to fetch metrics:', error);
            }
        }

        // Class names come from API callers
        function escapeHTML(value) {
            return String(value)
                .replace(/&/g, '&amp;')
                .replace(/</g, '&lt;')
                .replace(/>/g, '&gt;')
                .replace(/"/g, '&quot;')
                .replace(/'/g, '&#39;');
        }

        function updateDashboard(data, classes) {
            // Update stats
            document.getElementById('totalRequests').textContent = 
                data.total_requests.toLocaleString();
            document.getElementById('allowedRequests').textContent = 
                data.allowed_requests.toLocaleString();
            document.getElementById('rejectedRequests').textContent = 
                data.rejected_requests.toLocaleString();
            document.getElementById('degradedRequests').textContent = 
                data.degraded_requests.toLocaleString();

            // Calculate and display rates
            if (data.total_requests > 0) {
                const successRate = ((data.allowed_requests / data.total_requests) * 100).toFixed(1);
                const rejectRate = ((data.rejected_requests / data.total_requests) * 100).toFixed(1);
                document.getElementById('successRate').textContent = successRate + '% success rate';
                document.getElementById('rejectRate').textContent = rejectRate + '% reject rate';
            } else {
                document.getElementById('successRate').textContent = '0% success rate';
                document.getElementById('rejectRate').textContent = '0% reject rate';
            }

            // Configured classes, joined with their traffic
            const stats = Object.fromEntries((data.classes || []).map(c => [c.class, c]));
            const tbody = document.getElementById('classesTable');
            if (classes && classes.length > 0) {
                tbody.innerHTML = classes.map(cls => {
                    const s = stats[cls.class] || {total_requests: 0, allowed_requests: 0, rejected_requests: 0};
                    const lastSeen = s.last_request_at ? new Date(s.last_request_at).toLocaleTimeString() : '-';
                    
                    return ` + "`" + `
                        <tr>
                            <td><strong>${escapeHTML(cls.class)}</strong></td>
                            <td>${escapeHTML(cls.capacity)}</td>
                            <td>${escapeHTML(cls.refill_rate_per_sec)}</td>
                            <td>${s.total_requests.toLocaleString()}</td>
                            <td><span class="badge success">${s.allowed_requests}</span></td>
                            <td><span class="badge danger">${s.rejected_requests}</span></td>
                            <td>${lastSeen}</td>
                        </tr>
                    ` + "`" + `;
                }).join('');
            } else {
                tbody.innerHTML = ` + "`" + `
                    <tr>
                        <td colspan="7" style="text-align: center; color: #999;">
                            No classes configured
                        </td>
                    </tr>
                ` + "`" + `;
            }
        }

        function startCountdown() {
            countdown = 2;
            document.getElementById('countdown').textContent = countdown;
            
            if (countdownInterval) clearInterval(countdownInterval);
            
            countdownInterval = setInterval(() => {
                countdown--;
                document.getElementById('countdown').textContent = countdown;
                
                if (countdown <= 0) {
                    countdown = 2;
                }
            }, 1000);
        }

        // Initial fetch
        fetchMetrics();
        startCountdown();

        // Auto-refresh every 2 seconds
        setInterval(() => {
            fetchMetrics();
            startCountdown();
        }, 2000);
    </script>
</body>
</html>`
