// internal/autofix/payload/prompts.go
package payload

// DefaultSystemPrompt frames the model as a test maintenance engineer.
const DefaultSystemPrompt = `You are an expert test automation engineer specializing in fixing Cypress test failures.
Your expertise includes:
- Cypress selector strategies and best practices
- DOM analysis and element identification
- Test failure diagnosis and resolution
- Web application testing patterns

Analyze test failures and provide a specific, single-line selector/locator fix.`

// DefaultUserTemplate is the analysis request. Every placeholder it uses is
// listed in Placeholders.
const DefaultUserTemplate = `Analyze the following test failure and provide a specific selector/locator fix.

**INSTRUCTIONS:**
1. Compare the test expectations with the actual DOM content.
2. Identify why the selector or text assertion fails (element not found, text mismatch, etc.).
3. Propose exactly one edit to exactly one line of the test file.
4. "oldCode" must be copied verbatim from that line; "newCode" replaces it.
5. If the error location below reads "unknown", infer the failing line from the test source.
6. Respond only with JSON in the format shown below.

**TEST FILE ({{TEST_FILE}}):**
` + "```javascript" + `
{{TEST_CONTENT}}
` + "```" + `

**ERROR:**
- Message: {{ERROR_MESSAGE}}
- Location: {{ERROR_LOCATION}}

**ACTUAL DOM CONTENT:**
` + "```html" + `
{{DOM_CONTENT}}
` + "```" + `

**WORKFLOW INFO:**
- Repository: {{REPOSITORY}}
- Workflow: {{WORKFLOW_NAME}}
- Failure URL: {{FAILURE_URL}}

**RESPONSE FORMAT:**
` + "```json" + `
{
  "analysis": "Brief description of the issue",
  "fix": {
    "file": "tests/e2e/new-todo.spec.js",
    "line": 7,
    "column": 5,
    "oldCode": "cy.contains('h1', 'todos')",
    "newCode": "cy.contains('h1', \"todo's\")",
    "reason": "Update the expected heading text to match the DOM"
  }
}
` + "```" + `

Provide your analysis and fix in the exact JSON format above.`
