// Package agent loads the behavioural rules and workflow instructions that
// frame every model prompt. The files live outside the binary so analysts can
// tune the agent's behaviour without a redeploy; missing files degrade to a
// built-in minimal rule set instead of failing the pipeline.
package agent

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Workflow names map one-to-one onto instruction files under workflows/.
const (
	WorkflowExtraction      = "extraer-factura"
	WorkflowValidation      = "validar-factura"
	WorkflowKPIsDirection   = "kpis-direccion"
	WorkflowKPIsClaim       = "kpis-reclamacion"
	WorkflowCompareSupplier = "comparar-proveedor"
	WorkflowMeetingSummary  = "resumen-reunion"
	WorkflowAlerts          = "alertas"
)

// rulesFiles is the fixed concatenation order for the core rule set. Order
// matters: later rules refine earlier ones, so the list is not sorted.
var rulesFiles = []string{
	"enfoque-del-dominio.md",
	"no-invencion.md",
	"prioridad-de-datos.md",
	"lenguaje-profesional.md",
	"estructura.md",
	"orientacion-a-decision.md",
	"suposiciones-explicitas.md",
}

const rulesHeader = "REGLAS DE COMPORTAMIENTO (CARGADAS DINÁMICAMENTE):\n"

// fallbackRules backs the pipeline when the agent directory is absent or the
// rule files are effectively empty.
const fallbackRules = `REGLAS DE COMPORTAMIENTO:
1. Actúas como analista contable-financiero especializado en facturas.
2. Prioriza datos numéricos.
3. Foco en control interno y ahorro.
`

// minRulesLen guards against an agent directory that exists but holds only
// empty or near-empty rule files.
const minRulesLen = 100

// Loader resolves rule and workflow files against a list of candidate
// directories, first hit wins.
type Loader struct {
	dirs []string
}

// NewLoader builds a Loader over the given directories. An empty list falls
// back to the conventional locations relative to the working directory.
func NewLoader(dirs ...string) *Loader {
	if len(dirs) == 0 {
		dirs = []string{".agent", filepath.Join("..", ".agent")}
	}
	return &Loader{dirs: dirs}
}

// LoadFile returns the contents of a file relative to the agent directory,
// or "" when no candidate directory holds it.
func (l *Loader) LoadFile(rel string) string {
	for _, dir := range l.dirs {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err == nil {
			return string(data)
		}
	}
	zap.L().Warn("agent: instruction file not found", zap.String("file", rel))
	return ""
}

// CoreRules concatenates the behavioural rule files in their fixed order.
// When the combined text is too short to be usable it returns the built-in
// fallback rule set.
func (l *Loader) CoreRules() string {
	var b strings.Builder
	b.WriteString(rulesHeader)
	for _, rf := range rulesFiles {
		if content := l.LoadFile(filepath.Join("rules", rf)); content != "" {
			b.WriteString(content)
			b.WriteString("\n")
		}
	}
	combined := b.String()
	if len(combined) < minRulesLen {
		zap.L().Warn("agent: rule files missing or empty, using built-in rules")
		return fallbackRules
	}
	return combined
}

// WorkflowInstructions returns the instruction text for a named workflow,
// or "" when the workflow file is absent.
func (l *Loader) WorkflowInstructions(name string) string {
	return l.LoadFile(filepath.Join("workflows", name+".md"))
}
