package api

import (
	"net/http"
)

// Dashboard serves a self-contained page that polls /snapshot and draws the
// first bits of the vector as a grid.
func Dashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>bitflip</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #1e3a8a 0%, #0f766e 100%);
            min-height: 100vh;
            padding: 20px;
        }
        .container { max-width: 1200px; margin: 0 auto; }
        .header { text-align: center; color: white; margin-bottom: 30px; }
        .header h1 { font-size: 2.5em; margin-bottom: 10px; }
        .stats-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 30px;
        }
        .card {
            background: white;
            border-radius: 12px;
            padding: 25px;
            box-shadow: 0 4px 6px rgba(0,0,0,0.1);
        }
        .label {
            color: #666;
            font-size: 0.9em;
            text-transform: uppercase;
            letter-spacing: 1px;
            margin-bottom: 10px;
        }
        .value { font-size: 2.5em; font-weight: bold; color: #333; }
        canvas { width: 100%; image-rendering: pixelated; border: 1px solid #e5e7eb; }
        .hint { margin-top: 8px; color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>bitflip</h1>
            <p>Shared bit vector</p>
        </div>

        <div class="stats-grid">
            <div class="card">
                <div class="label">Length</div>
                <div class="value" id="length">0</div>
            </div>
            <div class="card">
                <div class="label">Bits set</div>
                <div class="value" id="setBits">0</div>
            </div>
            <div class="card">
                <div class="label">Last refresh</div>
                <div class="value" id="refreshed">-</div>
            </div>
        </div>

        <div class="card">
            <div class="label">First 65,536 bits</div>
            <canvas id="grid" width="256" height="256"></canvas>
            <div class="hint">Row-major, bit 0 top left. Refreshes every 2s.</div>
        </div>
    </div>

    <script>
        const canvas = document.getElementById('grid');
        const ctx = canvas.getContext('2d');

        function popcount(b) {
            let n = 0;
            while (b) { n += b & 1; b >>= 1; }
            return n;
        }

        function draw(data) {
            const img = ctx.createImageData(canvas.width, canvas.height);
            const max = Math.min(data.length * 8, canvas.width * canvas.height);
            for (let i = 0; i < max; i++) {
                const on = (data[i >> 3] >> (i & 7)) & 1;
                const p = i * 4;
                img.data[p] = on ? 15 : 255;
                img.data[p + 1] = on ? 118 : 255;
                img.data[p + 2] = on ? 110 : 255;
                img.data[p + 3] = 255;
            }
            ctx.putImageData(img, 0, 0);
        }

        async function refresh() {
            try {
                const response = await fetch('/snapshot');
                const snap = await response.json();
                let set = 0;
                for (const b of snap.data) set += popcount(b);
                document.getElementById('length').textContent = snap.length.toLocaleString();
                document.getElementById('setBits').textContent = set.toLocaleString();
                document.getElementById('refreshed').textContent = new Date().toLocaleTimeString();
                draw(snap.data);
            } catch (error) {
                console.error('Failed to fetch snapshot:', error);
            }
        }

        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>`
