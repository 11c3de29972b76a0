package version

// GenesisID is the id of the bootstrap version.
const GenesisID = "genesis"

// GenesisDescription describes the bootstrap version.
const GenesisDescription = "Singularity protocol activated."

// InitialCode is the document the system boots with before any generation.
const InitialCode = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>NEXUS CORE v6.0</title>
  <style>
    @keyframes pulse-ring { 0% { transform: scale(0.9); opacity: 0.8; } 100% { transform: scale(1.4); opacity: 0; } }
    .ring { animation: pulse-ring 2.4s cubic-bezier(0.2, 0.6, 0.4, 1) infinite; }
    .glass { background: rgba(15, 23, 42, 0.55); backdrop-filter: blur(18px); }
  </style>
</head>
<body class="min-h-screen flex items-center justify-center font-mono">
  <div id="root"></div>
  <script type="module">
    import React, { useEffect, useState } from "react";
    import { createRoot } from "react-dom/client";

    function Core() {
      const [tick, setTick] = useState(0);
      useEffect(() => {
        const id = setInterval(() => setTick((t) => t + 1), 1000);
        return () => clearInterval(id);
      }, []);
      return React.createElement("div", { className: "glass relative rounded-3xl border border-cyan-500/30 p-12 text-center shadow-2xl" },
        React.createElement("div", { className: "ring absolute inset-0 rounded-3xl border border-cyan-400/40" }),
        React.createElement("h1", { className: "text-4xl font-bold tracking-[0.3em] text-cyan-300" }, "NEXUS CORE"),
        React.createElement("p", { className: "mt-4 text-xs uppercase tracking-widest text-slate-400" }, "Singularity protocol online"),
        React.createElement("p", { className: "mt-8 text-5xl text-fuchsia-400" }, String(tick).padStart(4, "0")),
        React.createElement("p", { className: "mt-6 text-[10px] text-slate-500" }, "Hold the capture control and speak to evolve this system.")
      );
    }

    createRoot(document.getElementById("root")).render(React.createElement(Core));
  </script>
</body>
</html>`
