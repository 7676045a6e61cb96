package templates

const WrapperTemplate = `% Generated on {{.GeneratedDate}}
% Run ID: {{.RunID}}
\begin{center}
    \begin{figure}[H]
    \centering
    \resizebox{1\linewidth}{!}{\input{./{{.PlotFileName}} }}
    % TODO: Add short and long caption
    \caption[{{.ShortCaption}}]{ {{.Caption}} }
    \label{fig:membench-sweep-{{.RunID}}}
    \end{figure}
\end{center}
`

type WrapperData struct {
	GeneratedDate string
	RunID         int
	PlotFileName  string
	ShortCaption  string
	Caption       string
}
