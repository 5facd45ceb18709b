package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/facturio/factura-cli/internal/agent"
	"github.com/facturio/factura-cli/internal/config"
	"github.com/facturio/factura-cli/internal/model"
)

// ValidationResult is the structured output of the validation workflow.
type ValidationResult struct {
	Status        string   `json:"status"`
	Alerts        []string `json:"alerts"`
	Reasons       []string `json:"reasons"`
	MissingFields []string `json:"missing_fields"`
}

// ValidateInvoice checks one invoice for typical billing errors. The model
// answers with a fixed JSON shape; an unparseable answer is reported as a
// record to review, never as an error.
func (p *Pipeline) ValidateInvoice(ctx context.Context, inv model.Invoice, history string) ValidationResult {
	var b strings.Builder
	p.writePreamble(&b, agent.WorkflowValidation)
	b.WriteString("TAREA: Validar la siguiente factura y detectar errores típicos de facturación.\n\n")
	b.WriteString("Datos de la factura:\n")
	b.WriteString(mustJSON(inv))
	b.WriteString("\n\nContexto adicional (histórico):\n")
	b.WriteString(history)
	b.WriteString(`

FORMATO DE SALIDA (JSON):
{
    "status": "OK" | "REVISAR",
    "alerts": ["Lista de alertas"],
    "reasons": ["Motivos concretos"],
    "missing_fields": ["Campos faltantes"]
}`)

	raw := p.ai.Complete(ctx, b.String(), true)

	var res ValidationResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &res); err != nil || res.Status == "" {
		return ValidationResult{
			Status:  "REVISAR",
			Reasons: []string{"respuesta del modelo no interpretable"},
		}
	}
	return res
}

// ExecutiveKPIs produces the management KPI report over a set of invoices.
// The output is free-form markdown.
func (p *Pipeline) ExecutiveKPIs(ctx context.Context, invoices []model.Invoice) string {
	if len(invoices) == 0 {
		return "No hay facturas para analizar."
	}
	var b strings.Builder
	p.writePreamble(&b, agent.WorkflowKPIsDirection)
	b.WriteString("TAREA: Generar KPIs ejecutivos para presentación a dirección.\n\n")
	b.WriteString("Datos de facturas:\n")
	b.WriteString(mustJSON(invoices))
	b.WriteString(`

FORMATO DE SALIDA:
## KPIs PRINCIPALES
[Lista de KPIs con valores]

## ANÁLISIS EJECUTIVO
[2-3 bullets máximo con insights clave]

## ACCIONES RECOMENDADAS
[Decisiones concretas para dirección]`)
	return p.ai.Complete(ctx, b.String(), false)
}

// ClaimKPIs prepares the technical basis for a claim against the supplier of
// one invoice. Contract and history are optional.
func (p *Pipeline) ClaimKPIs(ctx context.Context, inv model.Invoice, contract string, history []model.Invoice) string {
	var b strings.Builder
	p.writePreamble(&b, agent.WorkflowKPIsClaim)
	b.WriteString("TAREA: Preparar base técnica para reclamar al proveedor.\n\n")
	b.WriteString("Factura a analizar:\n")
	b.WriteString(mustJSON(inv))
	b.WriteString("\n\nDatos del contrato:\n")
	b.WriteString(orUnavailable(contract))
	b.WriteString("\n\nHistórico:\n")
	b.WriteString(invoicesOrUnavailable(history))
	b.WriteString(`

FORMATO DE SALIDA:
## PUNTOS RECLAMABLES
[Lista numerada con evidencia]

## IMPACTO ECONÓMICO
[Desglose por concepto]

## BASE ARGUMENTATIVA
[Fundamentación técnica y normativa]`)
	return p.ai.Complete(ctx, b.String(), false)
}

// CompareSupplier benchmarks the current invoice against the supplier's own
// history and an optional alternative offer.
func (p *Pipeline) CompareSupplier(ctx context.Context, current model.Invoice, history []model.Invoice, alternative string) string {
	var b strings.Builder
	p.writePreamble(&b, agent.WorkflowCompareSupplier)
	b.WriteString("TAREA: Realizar benchmarking de proveedores.\n\n")
	b.WriteString("Factura actual:\n")
	b.WriteString(mustJSON(current))
	b.WriteString("\n\nHistórico del mismo proveedor:\n")
	b.WriteString(invoicesOrUnavailable(history))
	b.WriteString("\n\nProveedor alternativo:\n")
	b.WriteString(orUnavailable(alternative))
	b.WriteString(`

FORMATO DE SALIDA:
## COMPARATIVA DE PRECIOS
[Tabla comparativa]

## AHORRO/SOBRECOSTO POTENCIAL
[Cálculo con cifras]

## RECOMENDACIÓN
[Mantener / Renegociar / Cambiar con justificación]`)
	return p.ai.Complete(ctx, b.String(), false)
}

// MeetingSummary drafts the executive brief for a management meeting over the
// period's invoices and any open incidents.
func (p *Pipeline) MeetingSummary(ctx context.Context, invoices []model.Invoice, issues []string) string {
	var b strings.Builder
	p.writePreamble(&b, agent.WorkflowMeetingSummary)
	b.WriteString("TAREA: Preparar mensaje ejecutivo para dirección.\n\n")
	b.WriteString("Datos de facturas del periodo:\n")
	b.WriteString(mustJSON(invoices))
	b.WriteString("\n\nIncidencias detectadas:\n")
	if len(issues) == 0 {
		b.WriteString("Ninguna")
	} else {
		b.WriteString(mustJSON(issues))
	}
	b.WriteString(`

FORMATO DE SALIDA:
## RESUMEN EJECUTIVO
• [Punto 1]
• [Punto 2]
• [Punto 3]
• [Punto 4]
• [Punto 5]

## DECISIÓN RECOMENDADA
[Acción concreta]`)
	return p.ai.Complete(ctx, b.String(), false)
}

// CheckAlerts evaluates anomaly rules for one invoice against historical
// averages. Thresholds come from the configuration and are expressed to the
// model as percentages.
func (p *Pipeline) CheckAlerts(ctx context.Context, inv model.Invoice, historicalAvg map[string]float64, cfg config.AlertsConfig) string {
	thresholds := map[string]float64{
		"consumption_increase_pct": math.Round(cfg.ConsumptionThreshold * 100),
		"price_deviation_pct":      math.Round(cfg.PriceThreshold * 100),
	}

	var b strings.Builder
	p.writePreamble(&b, agent.WorkflowAlerts)
	b.WriteString("TAREA: Evaluar reglas de alerta y detectar anomalías.\n\n")
	b.WriteString("Factura actual:\n")
	b.WriteString(mustJSON(inv))
	b.WriteString("\n\nPromedios históricos:\n")
	if len(historicalAvg) == 0 {
		b.WriteString("No disponible")
	} else {
		b.WriteString(mustJSON(historicalAvg))
	}
	b.WriteString("\n\nUmbrales configurados:\n")
	b.WriteString(mustJSON(thresholds))
	b.WriteString(`

FORMATO DE SALIDA:
## ALERTAS DETECTADAS
[Lista de alertas con severity: ALTA/MEDIA/BAJA]

## MAGNITUD DE DESVIACIÓN
[Valores concretos]

## IMPACTO ECONÓMICO POTENCIAL
[Estimación en €]

## ACCIÓN RECOMENDADA
[Qué hacer con cada alerta]`)
	return p.ai.Complete(ctx, b.String(), false)
}

// Chat answers a free-form question over the provided invoice context.
func (p *Pipeline) Chat(ctx context.Context, query, invoiceContext string) string {
	var b strings.Builder
	b.WriteString(p.agent.CoreRules())
	b.WriteString("\n\nDatos disponibles:\n")
	b.WriteString(invoiceContext)
	b.WriteString("\n\nPregunta del usuario: ")
	b.WriteString(query)
	b.WriteString(`

ESTRUCTURA DE RESPUESTA:
1. KPIs relevantes (si aplica)
2. Análisis de la situación
3. Conclusiones o acciones recomendadas

Si la información no está disponible, indícalo claramente y explica qué datos necesitarías.
Mantén un tono profesional pero accesible.`)
	return p.ai.Complete(ctx, b.String(), false)
}

// writePreamble emits the shared prompt head: behaviour rules plus the named
// workflow's instruction file when present.
func (p *Pipeline) writePreamble(b *strings.Builder, workflow string) {
	b.WriteString(p.agent.CoreRules())
	b.WriteString("\n\n")
	if wf := p.agent.WorkflowInstructions(workflow); wf != "" {
		b.WriteString(wf)
		b.WriteString("\n\n")
	}
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func orUnavailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return "No disponible"
	}
	return s
}

func invoicesOrUnavailable(invoices []model.Invoice) string {
	if len(invoices) == 0 {
		return "No disponible"
	}
	return mustJSON(invoices)
}
