package gemini

import "strings"

// promptTemplate instructs the model to partition a Spanish consultation
// transcript into the four SOAP sections, answering with a flat JSON
// object. %TRANSCRIPT% is replaced with the transcript text.
const promptTemplate = `Eres un asistente médico especializado en crear notas clínicas siguiendo el formato SOAP (Subjetivo, Objetivo, Evaluación, Plan).

Tu tarea es analizar la siguiente transcripción de una consulta médica en español y organizar su contenido en las cuatro secciones SOAP.

INSTRUCCIONES CRÍTICAS:
1. Extrae ÚNICAMENTE información mencionada explícitamente en la transcripción
2. Si una sección no tiene información, usa una cadena vacía (no inventes datos)
3. Mantén los términos médicos exactamente como aparecen en la transcripción
4. Subjetivo: motivo de consulta, síntomas e historia relatados por el paciente
5. Objetivo: signos vitales, examen físico y hallazgos del médico
6. Evaluación: diagnóstico e impresión clínica
7. Plan: tratamiento, medicamentos, estudios y seguimiento

TRANSCRIPCIÓN:
%TRANSCRIPT%

FORMATO DE SALIDA:
Responde ÚNICAMENTE con un objeto JSON válido con exactamente estas cuatro claves, cada una una cadena de texto:

{
  "subjetivo": "...",
  "objetivo": "...",
  "evaluacion": "...",
  "plan": "..."
}

REGLAS IMPORTANTES:
- Responde SOLO con el JSON, sin texto adicional antes o después
- No incluyas marcadores de bloque de código
- Usa comillas dobles y mantén los acentos del español`

// BuildPrompt formats the extraction prompt for a transcript.
func BuildPrompt(transcript string) string {
	return strings.Replace(promptTemplate, "%TRANSCRIPT%", transcript, 1)
}
